package cache

import (
	"github.com/midden-io/midden/pkg/restorer"
)

// NamingPolicy decides the in-volume name for an object being placed
// into a volume with the given roles.
type NamingPolicy interface {
	NameFor(id string, volRoles int) string
}

// PreferencePolicy derives placement preference bits for an object
// when the caller supplied none.
type PreferencePolicy interface {
	PreferencesFor(id string, size int64) int
}

// restorerNaming delegates naming to the restorer, which knows the
// archive's identifier conventions.
type restorerNaming struct {
	rest restorer.Restorer
}

func (p restorerNaming) NameFor(id string, volRoles int) string {
	return p.rest.NameForObject(id, volRoles)
}

// restorerPreferences delegates preference derivation to the restorer.
type restorerPreferences struct {
	rest restorer.Restorer
}

func (p restorerPreferences) PreferencesFor(id string, size int64) int {
	return p.rest.PreferencesFor(id, size, 0)
}

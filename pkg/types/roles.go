package types

// Volume role bits. A volume's roles bitmask says what kind of content
// it is meant to hold; an object's placement preferences are expressed
// in the same bits.
const (
	// RoleGeneralPurpose marks a volume willing to hold anything.
	RoleGeneralPurpose = 1 << iota

	// RoleSmallObjects marks a volume tuned for small files.
	RoleSmallObjects

	// RoleLargeObjects marks a volume tuned for large files.
	RoleLargeObjects

	// RoleOldVersions marks a volume for copies of superseded
	// dataset versions.
	RoleOldVersions

	// RoleRestricted marks a volume for restricted-access content.
	RoleRestricted
)

package types

import (
	"strings"
)

// AIPID is a parsed archival information package identifier. The
// textual form is dsid[/filepath][#version]; both the filepath and the
// version are optional. The dsid is either a legacy EDI identifier or
// the local portion of a repository ARK.
type AIPID struct {
	DSID     string
	FilePath string
	Version  string
}

// ParseAIPID splits an identifier into its dataset, file path, and
// version parts.
func ParseAIPID(id string) AIPID {
	var out AIPID
	if i := strings.LastIndex(id, "#"); i >= 0 {
		out.Version = id[i+1:]
		id = id[:i]
	}
	if i := strings.Index(id, "/"); i >= 0 {
		out.DSID = id[:i]
		out.FilePath = id[i+1:]
	} else {
		out.DSID = id
	}
	return out
}

// String reassembles the identifier's textual form.
func (a AIPID) String() string {
	var b strings.Builder
	b.WriteString(a.DSID)
	if a.FilePath != "" {
		b.WriteString("/")
		b.WriteString(a.FilePath)
	}
	if a.Version != "" {
		b.WriteString("#")
		b.WriteString(a.Version)
	}
	return b.String()
}

// IsDataset reports whether the identifier names a whole dataset
// rather than an individual file.
func (a AIPID) IsDataset() bool {
	return a.FilePath == ""
}

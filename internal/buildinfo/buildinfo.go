// Package buildinfo carries the identifiers stamped in with -ldflags -X.
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns the release version, else the commit, else "dev".
func Short() string {
	switch {
	case Version != "" && Version != "dev":
		return Version
	case Commit != "" && Commit != "unknown":
		return Commit
	}
	return "dev"
}

// String is the version line printed by emberctl --version.
func String() string {
	if Commit == "" || Commit == "unknown" {
		return Short()
	}
	return fmt.Sprintf("%s (commit %s, built %s)", Short(), Commit, Date)
}

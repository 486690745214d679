package buildinfo

import "time"

// Set via -ldflags at build time
var (
	BuildTime  string // when the binary was compiled
	CommitHash string // short git commit hash
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC().Format(time.RFC3339)

// Version returns the commit hash, or "dev" for local builds.
func Version() string {
	if CommitHash == "" {
		return "dev"
	}
	return CommitHash
}

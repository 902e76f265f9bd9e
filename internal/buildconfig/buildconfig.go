// Package buildconfig exposes build metadata injected via ldflags:
//
//	-ldflags "-X github.com/Harshitk-cp/penny/internal/buildconfig.version=v0.3.0 -X ...commit=abc123"
package buildconfig

import "runtime"

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = ""
)

// Version returns the build version
func Version() string {
	return version
}

// Commit returns the git commit hash
func Commit() string {
	return commit
}

// VersionInfo returns full version information
func VersionInfo() map[string]string {
	info := map[string]string{
		"version": version,
		"commit":  commit,
		"go":      runtime.Version(),
	}
	if buildTime != "" {
		info["build_time"] = buildTime
	}
	return info
}

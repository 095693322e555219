// Package version holds the build-time version string, overridden via
// -ldflags "-X github.com/guaranijs/guarani/version.Version=..." by release
// builds.
package version

var Version = "dev"

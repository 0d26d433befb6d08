// Package version exists solely so that we can store the version of
// this library in one location, despite needing it in two places.
//
// The version appears in the interactive-mode banner the console
// prints, and host applications embedding us want to report it too.
// Duplicating the version number/tag in two places is a recipe for
// drift and confusion, so this package is the result.
package version

import "fmt"

var (
	// version is populated with our release tag at build time, via
	// -ldflags; until then it holds this placeholder.
	version = "unreleased"
)

// GetVersionBanner returns a banner which is suitable for printing, to
// show our name, version, and homepage link.
func GetVersionBanner() string {

	str := fmt.Sprintf("wozcon %s\n%s\n", version, "https://github.com/wozcon/wozcon/")
	return str
}

// GetVersionString returns our version number as a string.
func GetVersionString() string {
	return version
}

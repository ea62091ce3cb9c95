//go:build dev && !testing
// +build dev,!testing

package build

const (
	// DEBUG determines whether sanity checks panic or merely log.
	DEBUG = true

	// Release is the release mode the binary was compiled with.
	Release = "dev"
)

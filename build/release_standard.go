//go:build !testing && !dev
// +build !testing,!dev

package build

const (
	// DEBUG determines whether sanity checks panic or merely log.
	DEBUG = false

	// Release is the release mode the binary was compiled with.
	Release = "standard"
)

package build

import (
	"os"
	"path/filepath"
)

var (
	// TestingDir is the directory that contains all of the files and
	// folders created during testing.
	TestingDir = filepath.Join(os.TempDir(), "CNodeTesting")
)

// TempDir joins the provided directories and prefixes them with the testing
// directory, removing any data left behind by a previous run of the same
// test.
func TempDir(dirs ...string) string {
	path := filepath.Join(TestingDir, filepath.Join(dirs...))
	os.RemoveAll(path)
	return path
}

package persist

import (
	"encoding/base32"
	"errors"
	"os"
	"path/filepath"

	"github.com/NebulousLabs/fastrand"
	"github.com/mitchellh/go-homedir"
)

var (
	// ErrBadVersion indicates that the version number of the file is not
	// compatible with the current codebase.
	ErrBadVersion = errors.New("incompatible version")

	// ErrBadHeader indicates that the file opened is not the file that was
	// expected.
	ErrBadHeader = errors.New("wrong header")
)

// Metadata contains the header and version of the data being stored.
type Metadata struct {
	Header, Version string
}

// HomeFolder returns the location of the default data directory for the
// content node.
func HomeFolder() string {
	home, err := homedir.Dir()
	if err != nil {
		// A node without a resolvable home directory can still run with an
		// explicit data directory, so this is not fatal.
		return ""
	}
	return filepath.Join(home, ".config", "cnode")
}

// RandomSuffix returns a 20 character base32 suffix for a filename. There are
// 100 bits of entropy, and a very low probability of colliding with existing
// files unintentionally.
func RandomSuffix() string {
	str := base32.StdEncoding.EncodeToString(fastrand.Bytes(20))
	return str[:20]
}

// IsFileNotExist reports whether the error indicates that a persisted file
// has not been created yet.
func IsFileNotExist(err error) bool {
	return err != nil && os.IsNotExist(err)
}

// RemoveFile removes an atomic file from disk.
func RemoveFile(filename string) error {
	return os.Remove(filename)
}

package persist

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"

	"github.com/anthonymartin/audius-protocol/crypto"

	"github.com/NebulousLabs/errors"
)

// SaveJSON will save an object to disk in a json file at the provided
// filename, tagged with the provided metadata and protected by a checksum.
// The write happens to a temporary file which is renamed over the target, so
// a crash mid-write cannot destroy the previous version of the file.
func SaveJSON(meta Metadata, object interface{}, filename string) error {
	// Write the metadata, checksum, and data into a buffer. The checksum
	// covers only the object data, so the metadata can be inspected and
	// updated without invalidating the file.
	objBytes, err := json.MarshalIndent(object, "", "\t")
	if err != nil {
		return errors.AddContext(err, "unable to marshal the provided object")
	}
	checksum := crypto.HashBytes(objBytes)

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	if err := enc.Encode(meta.Header); err != nil {
		return errors.AddContext(err, "unable to encode metadata header")
	}
	if err := enc.Encode(meta.Version); err != nil {
		return errors.AddContext(err, "unable to encode metadata version")
	}
	if err := enc.Encode(checksum); err != nil {
		return errors.AddContext(err, "unable to encode checksum")
	}
	buf.Write(objBytes)

	// Write the buffer to a temp file, sync, and rename into place.
	tmpname := filename + "_temp_" + RandomSuffix()
	file, err := os.OpenFile(tmpname, os.O_RDWR|os.O_TRUNC|os.O_CREATE, 0600)
	if err != nil {
		return errors.AddContext(err, "unable to open temp file")
	}
	if _, err := file.Write(buf.Bytes()); err != nil {
		file.Close()
		return errors.Compose(errors.AddContext(err, "unable to write temp file"), os.Remove(tmpname))
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return errors.Compose(errors.AddContext(err, "unable to sync temp file"), os.Remove(tmpname))
	}
	if err := file.Close(); err != nil {
		return errors.AddContext(err, "unable to close temp file")
	}
	return errors.AddContext(os.Rename(tmpname, filename), "unable to move temp file into place")
}

// LoadJSON will load a persisted json object from disk, verifying the
// metadata and the checksum before accepting the data.
func LoadJSON(meta Metadata, object interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	// Verify the metadata.
	var header, version string
	dec := json.NewDecoder(file)
	if err := dec.Decode(&header); err != nil {
		return errors.AddContext(err, "unable to read header from persisted json object file")
	}
	if header != meta.Header {
		return ErrBadHeader
	}
	if err := dec.Decode(&version); err != nil {
		return errors.AddContext(err, "unable to read version from persisted json object file")
	}
	if version != meta.Version {
		return ErrBadVersion
	}

	// Verify the checksum.
	var checksum crypto.Hash
	if err := dec.Decode(&checksum); err != nil {
		return errors.AddContext(err, "unable to read checksum from persisted json object file")
	}
	remainingBytes, err := ioutil.ReadAll(dec.Buffered())
	if err != nil {
		return errors.AddContext(err, "unable to read persisted json object data")
	}
	extraBytes, err := ioutil.ReadAll(file)
	if err != nil {
		return errors.AddContext(err, "unable to read persisted json object data")
	}
	remainingBytes = append(remainingBytes, extraBytes...)
	// The buffered reader may hold a leading newline from the checksum
	// encoding.
	remainingBytes = bytes.TrimPrefix(remainingBytes, []byte{'\n'})
	if checksum != crypto.HashBytes(remainingBytes) {
		return errors.New("loading a file with a bad checksum")
	}

	return errors.AddContext(json.Unmarshal(remainingBytes, object), "unable to parse the json object")
}

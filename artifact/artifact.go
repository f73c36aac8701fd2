// Package artifact persists a fitted pipeline and its training metadata as
// a single self-checking file.
//
// Layout: the magic "MCLA", a protobuf wire-format message, then the
// little-endian CRC-32 (IEEE) of that message.
package artifact

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"mailclass/ml"
)

const magic = "MCLA"

// Meta describes the training run that produced an artifact.
type Meta struct {
	RunID        string    `json:"run_id"`
	TrainedAt    time.Time `json:"trained_at"`
	Combo        string    `json:"combo"`
	CVMean       float64   `json:"cv_mean"`
	CVStd        float64   `json:"cv_std"`
	TestAccuracy float64   `json:"test_accuracy"`
	Samples      int       `json:"samples"`
}

// Artifact is a fitted pipeline plus metadata.
type Artifact struct {
	Pipeline *ml.Pipeline
	Meta     Meta
}

// Encode writes a to w.
func Encode(w io.Writer, a *Artifact) error {
	msg, err := marshal(a)
	if err != nil {
		return &ArtifactError{Op: "encode", Err: err}
	}

	buf := make([]byte, 0, len(magic)+len(msg)+4)
	buf = append(buf, magic...)
	buf = append(buf, msg...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(msg))

	if _, err := w.Write(buf); err != nil {
		return &ArtifactError{Op: "write", Err: err}
	}
	return nil
}

// Decode reads an artifact from r and validates the restored pipeline.
func Decode(r io.Reader) (*Artifact, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ArtifactError{Op: "read", Err: err}
	}
	if len(data) < len(magic)+4 {
		return nil, &ArtifactError{Op: "decode", Err: errTruncated}
	}
	if !bytes.Equal(data[:len(magic)], []byte(magic)) {
		return nil, &ArtifactError{Op: "decode", Err: errBadMagic}
	}

	msg := data[len(magic) : len(data)-4]
	sum := binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(msg) != sum {
		return nil, &ArtifactError{Op: "decode", Err: errChecksum}
	}

	a, err := unmarshal(msg)
	if err != nil {
		return nil, &ArtifactError{Op: "decode", Err: err}
	}
	return a, nil
}

// Save writes a to path through a temporary file in the same directory and
// renames it into place, so readers never observe a partial artifact.
func Save(path string, a *Artifact) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ArtifactError{Path: path, Op: "write", Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &ArtifactError{Path: path, Op: "write", Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := Encode(tmp, a); err != nil {
		cleanup()
		return withPath(err, path)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return &ArtifactError{Path: path, Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &ArtifactError{Path: path, Op: "write", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &ArtifactError{Path: path, Op: "rename", Err: err}
	}
	return nil
}

// Load reads the artifact at path.
func Load(path string) (*Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &ArtifactError{Path: path, Op: "open", Err: err}
	}
	defer file.Close()

	a, err := Decode(file)
	if err != nil {
		return nil, withPath(err, path)
	}
	return a, nil
}

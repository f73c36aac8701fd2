package artifact

import (
	"errors"
	"fmt"
)

var (
	errBadMagic    = errors.New("not a model artifact")
	errChecksum    = errors.New("checksum mismatch")
	errTruncated   = errors.New("artifact truncated")
	errNoPipeline  = errors.New("artifact has no pipeline")
	errMissingPart = errors.New("artifact is missing a required section")
)

// ArtifactError reports a failed save or load. Op is one of "open",
// "read", "decode", "encode", "write" or "rename".
type ArtifactError struct {
	Path string
	Op   string
	Err  error
}

func (e *ArtifactError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("artifact: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("artifact: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

func withPath(err error, path string) error {
	var ae *ArtifactError
	if errors.As(err, &ae) {
		ae.Path = path
		return ae
	}
	return &ArtifactError{Path: path, Op: "read", Err: err}
}

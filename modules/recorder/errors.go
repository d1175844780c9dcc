package recorder

import (
	"errors"
	"fmt"

	"github.com/e7canasta/orion-depth-sampler/modules/recorder/internal/container"
)

var (
	// ErrSessionNotWriting is returned by Stop when the session is not recording
	ErrSessionNotWriting = errors.New("recorder: session not writing")

	// ErrInvalidGeometry reports a zero, negative or odd frame size
	ErrInvalidGeometry = errors.New("recorder: invalid frame geometry")

	// ErrUnsupportedCodec reports a codec other than H.264
	ErrUnsupportedCodec = errors.New("recorder: unsupported codec")

	// ErrNoSamples is reported by Stop when no frame reached the file; the
	// empty file is removed
	ErrNoSamples = container.ErrNoSamples

	// ErrEncoderUnavailable reports that no encoder could be created
	ErrEncoderUnavailable = errors.New("recorder: encoder unavailable")
)

// InitializationError is returned by Open when a session cannot be created.
// It is not retried.
type InitializationError struct {
	Op   string // step that failed, e.g. "create file"
	Path string
	Err  error
}

func (e *InitializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("recorder: open session: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("recorder: open session %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

package capture

import (
	"fmt"
	"strings"
)

// Facing selects the physical camera
type Facing int

const (
	// FacingBack is the world-facing camera
	FacingBack Facing = iota
	// FacingFront is the user-facing camera
	FacingFront
)

// String returns a human-readable name for the facing
func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// ParseFacing parses "back" or "front" (case-insensitive)
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back", "":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	default:
		return FacingBack, fmt.Errorf("capture: unknown camera facing %q (must be back or front)", s)
	}
}

// CameraSelector parameterizes the device source. Changing it requires the
// stop → reconfigure → start sequence (see Controller.SwitchCamera).
type CameraSelector struct {
	Facing Facing
	// Mirrored flips the image horizontally (front cameras usually are)
	Mirrored bool
}

// String returns e.g. "front/mirrored"
func (c CameraSelector) String() string {
	if c.Mirrored {
		return c.Facing.String() + "/mirrored"
	}
	return c.Facing.String()
}

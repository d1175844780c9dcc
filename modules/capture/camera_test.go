package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFacing(t *testing.T) {
	tests := []struct {
		in      string
		want    Facing
		wantErr bool
	}{
		{"back", FacingBack, false},
		{"", FacingBack, false},
		{"Front", FacingFront, false},
		{" front ", FacingFront, false},
		{"side", FacingBack, true},
	}

	for _, tt := range tests {
		got, err := ParseFacing(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestCameraSelectorString(t *testing.T) {
	assert.Equal(t, "back", CameraSelector{}.String())
	assert.Equal(t, "front/mirrored", CameraSelector{Facing: FacingFront, Mirrored: true}.String())
	assert.Equal(t, "facing(7)", Facing(7).String())
}

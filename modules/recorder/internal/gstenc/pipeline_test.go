package gstenc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSetter records how each property was applied
type recordingSetter struct {
	props map[string]interface{}
	args  map[string]string
	fail  string
}

func newRecordingSetter() *recordingSetter {
	return &recordingSetter{props: map[string]interface{}{}, args: map[string]string{}}
}

func (r *recordingSetter) SetProperty(name string, value interface{}) error {
	if name == r.fail {
		return errors.New("Invalid type gint for property " + name)
	}
	r.props[name] = value
	return nil
}

func (r *recordingSetter) SetArg(name, value string) { r.args[name] = value }

func TestConfigureEncoderSetsEnumsByNick(t *testing.T) {
	enc := newRecordingSetter()
	require.NoError(t, configureEncoder(enc, PipelineConfig{
		Width:            640,
		Height:           480,
		Preset:           "veryfast",
		BitrateKbps:      2500,
		KeyframeInterval: 30,
	}))

	assert.Equal(t, map[string]string{
		"tune":         "zerolatency",
		"speed-preset": "veryfast",
	}, enc.args)
	assert.Equal(t, map[string]interface{}{
		"bframes":     uint(0),
		"byte-stream": true,
		"bitrate":     uint(2500),
		"key-int-max": uint(30),
	}, enc.props)
}

func TestConfigureEncoderKeepsDefaults(t *testing.T) {
	enc := newRecordingSetter()
	require.NoError(t, configureEncoder(enc, PipelineConfig{Width: 640, Height: 480}))

	assert.Equal(t, map[string]string{"tune": "zerolatency"}, enc.args)
	assert.NotContains(t, enc.props, "bitrate")
	assert.NotContains(t, enc.props, "key-int-max")
}

func TestConfigureEncoderReportsPropertyErrors(t *testing.T) {
	enc := newRecordingSetter()
	enc.fail = "bitrate"

	err := configureEncoder(enc, PipelineConfig{Width: 640, Height: 480, BitrateKbps: 1000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x264enc bitrate")
}

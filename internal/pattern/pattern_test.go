package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/pixelwire/internal/buffer"
)

func TestIndexSweep(t *testing.T) {
	l := buffer.Layout{PixelCount: 3, ElementSize: 3, SettingsSize: 1}
	buf := make([]byte, l.Size())
	buf[9] = 0x42
	r := NewRunner(Plan{Kind: IndexSweep})
	require.True(t, r.Step(l, buf))
	assert.Equal(t, []byte{255, 255, 255, 0, 0, 0, 0, 0, 0, 0x42}, buf)
	require.True(t, r.Step(l, buf))
	assert.Equal(t, []byte{0, 0, 0, 255, 255, 255, 0, 0, 0}, buf[:9])
	require.True(t, r.Step(l, buf))
	assert.False(t, r.Step(l, buf))
	assert.Equal(t, byte(0x42), buf[9], "settings untouched")
}

func TestChannelWalk(t *testing.T) {
	l := buffer.Layout{PixelCount: 2, ElementSize: 4}
	buf := make([]byte, l.Size())
	r := NewRunner(Plan{Kind: ChannelWalk, Level: 16})
	for step := 0; step < 6; step++ {
		require.True(t, r.Step(l, buf))
		want := make([]byte, 8)
		want[step%4], want[4+step%4] = 16, 16
		assert.Equal(t, want, buf, "step %d", step)
	}
}

func TestRamp(t *testing.T) {
	l := buffer.Layout{PixelCount: 2, ElementSize: 3}
	buf := make([]byte, l.Size())
	r := NewRunner(Plan{Kind: Ramp})
	require.True(t, r.Step(l, buf))
	assert.Equal(t, []byte{0, 0, 0, 4, 4, 4}, buf)
	require.True(t, r.Step(l, buf))
	assert.Equal(t, []byte{1, 1, 1, 5, 5, 5}, buf)
}

func TestParse(t *testing.T) {
	k, err := Parse("ramp")
	require.NoError(t, err)
	assert.Equal(t, Ramp, k)
	_, err = Parse("plane_z")
	assert.Error(t, err)
	assert.False(t, NewRunner(Plan{}).Step(buffer.Layout{PixelCount: 1, ElementSize: 3}, make([]byte, 3)))
}

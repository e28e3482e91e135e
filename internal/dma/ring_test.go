package dma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walk(r *Ring) []Segment {
	var out []Segment
	i := r.Head()
	for {
		d := r.At(i)
		out = append(out, d.Segment)
		if d.Segment == Idle {
			return out
		}
		i = d.Next
	}
}

func TestBuildSmall(t *testing.T) {
	data := make([]byte, 100)
	r, err := NewBuilder(Capacity(100, 16)).Data(data).Gap(make([]byte, 16)).Idle(make([]byte, 4)).Build()
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []Segment{Data, Gap, Idle}, walk(r))
	assert.True(t, r.At(0).EOF)
	assert.True(t, r.At(1).EOF)
	assert.False(t, r.At(2).EOF)
	assert.Equal(t, r.IdleIndex(), r.At(r.IdleIndex()).Next)
	assert.Equal(t, 100, r.Bytes(Data))
}

func TestBuildSplitsLargeBuffers(t *testing.T) {
	n := 2*MaxChunk + 10
	r, err := NewBuilder(Capacity(n, MaxChunk+1)).Data(make([]byte, n)).Gap(make([]byte, MaxChunk+1)).Idle(make([]byte, 4)).Build()
	require.NoError(t, err)
	assert.Equal(t, []Segment{Data, Data, Data, Gap, Gap, Idle}, walk(r))
	assert.False(t, r.At(0).EOF)
	assert.True(t, r.At(2).EOF)
	assert.False(t, r.At(3).EOF)
	assert.True(t, r.At(4).EOF)
	assert.Equal(t, 3, r.GapStart())
	assert.Equal(t, n, r.Bytes(Data))
}

func TestBuildEmptyFrame(t *testing.T) {
	r, err := NewBuilder(Capacity(0, 8)).Gap(make([]byte, 8)).Idle(make([]byte, 4)).Build()
	require.NoError(t, err)
	assert.Equal(t, r.GapStart(), r.Head())
	assert.Equal(t, []Segment{Gap, Idle}, walk(r))
	require.NoError(t, r.Rebind(nil))
}

func TestBuildErrors(t *testing.T) {
	_, err := NewBuilder(4).Data(make([]byte, 4)).Idle(make([]byte, 4)).Build()
	assert.ErrorIs(t, err, ErrEmptyGap)
	_, err = NewBuilder(4).Data(make([]byte, 4)).Gap(make([]byte, 4)).Build()
	assert.ErrorIs(t, err, ErrEmptyIdle)
	_, err = NewBuilder(2).Data(make([]byte, 4)).Gap(make([]byte, 4)).Idle(make([]byte, 4)).Build()
	assert.ErrorIs(t, err, ErrArenaFull)
}

func TestValidateCatchesBrokenRings(t *testing.T) {
	build := func() *Ring {
		r, err := NewBuilder(3).Data(make([]byte, 4)).Gap(make([]byte, 4)).Idle(make([]byte, 4)).Build()
		require.NoError(t, err)
		return r
	}

	r := build()
	r.descs[0].EOF = false
	assert.ErrorIs(t, r.Validate(), ErrBrokenChain)

	r = build()
	r.descs[2].Next = 0
	assert.ErrorIs(t, r.Validate(), ErrBrokenChain)

	r = build()
	r.descs[1].Next = 7
	assert.ErrorIs(t, r.Validate(), ErrBrokenChain)

	r = build()
	r.descs[2].EOF = true
	assert.ErrorIs(t, r.Validate(), ErrBrokenChain)
}

func TestRebind(t *testing.T) {
	a := make([]byte, MaxChunk+8)
	r, err := NewBuilder(Capacity(len(a), 4)).Data(a).Gap(make([]byte, 4)).Idle(make([]byte, 4)).Build()
	require.NoError(t, err)
	b := make([]byte, len(a))
	b[MaxChunk] = 0x42
	require.NoError(t, r.Rebind(b))
	assert.Equal(t, byte(0x42), r.At(1).Buf[0])
	assert.NoError(t, r.Validate())
	assert.Error(t, r.Rebind(make([]byte, 3)))
	assert.Error(t, r.Rebind(make([]byte, len(a)+1)))
}

// Package pattern fills raw pixel bytes with bring-up patterns. Patterns
// work on element bytes, so they suit any color order and element size.
package pattern

import (
	"fmt"

	"github.com/coreman2200/pixelwire/internal/buffer"
)

type Kind string

const (
	None Kind = ""
	// IndexSweep lights one pixel at a time, first to last, then ends.
	IndexSweep Kind = "index_sweep"
	// ChannelWalk lights one element byte of every pixel per frame, cycling.
	ChannelWalk Kind = "channel_walk"
	// Ramp fades every byte from 0 to 255 with a per-pixel phase, cycling.
	Ramp Kind = "ramp"
)

func Parse(s string) (Kind, error) {
	switch k := Kind(s); k {
	case None, IndexSweep, ChannelWalk, Ramp:
		return k, nil
	}
	return None, fmt.Errorf("pattern: unknown pattern %q", s)
}

type Plan struct {
	Kind Kind
	// Level is the value of a lit byte; zero means 255.
	Level byte
}

type Runner struct {
	plan Plan
	step int
}

func NewRunner(plan Plan) *Runner {
	if plan.Level == 0 {
		plan.Level = 255
	}
	return &Runner{plan: plan}
}

func (r *Runner) Kind() Kind { return r.plan.Kind }

// Step fills the pixel section of buf; returns false when the pattern is
// complete. The settings section is left alone.
func (r *Runner) Step(l buffer.Layout, buf []byte) bool {
	px := l.Pixels(buf)
	n, size := l.PixelCount, l.ElementSize
	for i := range px {
		px[i] = 0
	}

	switch r.plan.Kind {
	case IndexSweep:
		idx := r.step
		if idx >= n {
			return false
		}
		for j := 0; j < size; j++ {
			px[idx*size+j] = r.plan.Level
		}
	case ChannelWalk:
		if size == 0 {
			return false
		}
		j := r.step % size
		for i := 0; i < n; i++ {
			px[i*size+j] = r.plan.Level
		}
	case Ramp:
		for i := 0; i < n; i++ {
			v := byte((r.step + i*4) % 256)
			v = byte(int(v) * int(r.plan.Level) / 255)
			for j := 0; j < size; j++ {
				px[i*size+j] = v
			}
		}
	default:
		return false
	}
	r.step++
	return true
}

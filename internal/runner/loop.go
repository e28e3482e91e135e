// Package runner drives a strip at a fixed frame rate.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/pixelwire/internal/buffer"
	"github.com/coreman2200/pixelwire/internal/channel"
	"github.com/coreman2200/pixelwire/internal/diagnostics"
	"github.com/coreman2200/pixelwire/internal/pattern"
)

const DefaultFPS = 30

// Strip is the part of method.Method the loop uses.
type Strip interface {
	Name() string
	Data() []byte
	UpdateContext(ctx context.Context, maintainBufferConsistency bool) error
}

// Looper renders a pattern into a strip and sends it once per frame
// period.
type Looper struct {
	Strip   Strip
	Layout  buffer.Layout
	FPS     int
	Pattern *pattern.Runner
	// Consistent is passed to every update.
	Consistent bool
	// OnFrame, when set, receives each frame after it is handed over. The
	// slice is only valid during the call.
	OnFrame func(strip string, frame uint64, data []byte)
	Diag    diagnostics.Sink
	Log     *zerolog.Logger

	frames     uint64
	incomplete uint64
}

// Frames returns the number of frames sent and how many of them were cut
// short.
func (l *Looper) Frames() (sent, incomplete uint64) { return l.frames, l.incomplete }

// Run loops until ctx is done or a send fails. A context cancellation is
// not an error.
func (l *Looper) Run(ctx context.Context) error {
	lg := log.Logger
	if l.Log != nil {
		lg = *l.Log
	}
	lg = lg.With().Str("strip", l.Strip.Name()).Logger()
	fps := l.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	period := time.Second / time.Duration(fps)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	lg.Info().Int("fps", fps).Str("pattern", string(l.kind())).Msg("loop starting")
	for {
		select {
		case <-ctx.Done():
			lg.Info().Uint64("frames", l.frames).Uint64("incomplete", l.incomplete).Msg("loop stopped")
			return nil
		case <-ticker.C:
		}
		if err := l.step(ctx, &lg); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return err
		}
	}
}

func (l *Looper) kind() pattern.Kind {
	if l.Pattern == nil {
		return pattern.None
	}
	return l.Pattern.Kind()
}

func (l *Looper) step(ctx context.Context, lg *zerolog.Logger) error {
	data := l.Strip.Data()
	if l.Pattern != nil && !l.Pattern.Step(l.Layout, data) {
		lg.Info().Str("pattern", string(l.Pattern.Kind())).Msg("pattern complete")
		if l.Diag != nil {
			l.Diag.Report(diagnostics.Diagnostic{
				Severity: diagnostics.Info,
				Code:     diagnostics.PatternCompleted,
				Strip:    l.Strip.Name(),
				Summary:  "pattern complete",
				Detail:   string(l.Pattern.Kind()),
			})
		}
		l.Pattern = nil
	}
	err := l.Strip.UpdateContext(ctx, l.Consistent)
	switch {
	case err == nil:
	case errors.Is(err, channel.ErrFrameIncomplete):
		// Resent on the next tick.
		l.incomplete++
	default:
		return err
	}
	l.frames++
	if l.OnFrame != nil {
		l.OnFrame(l.Strip.Name(), l.frames, data)
	}
	return nil
}

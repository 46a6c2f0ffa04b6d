package syntest

import (
	"context"

	"github.com/zsiec/prismenc/capture"
	"github.com/zsiec/prismenc/frame"
)

// Adapter implements capture.Adapter over a fixed synthetic
// configuration, letting pipeline wiring treat a synthetic source the
// same as a real capture device.
type Adapter struct {
	Config Config
}

// Probe returns the single synthetic video (and, if ToneHz is set,
// audio) stream this adapter offers.
func (a *Adapter) Probe(ctx context.Context) ([]capture.StreamDescriptor, error) {
	descs := []capture.StreamDescriptor{{
		ID:        "syn-video",
		Kind:      capture.StreamKindVideo,
		Width:     a.Config.Width,
		Height:    a.Config.Height,
		FrameRate: a.Config.FrameRate,
	}}
	if a.Config.ToneHz > 0 {
		descs = append(descs, capture.StreamDescriptor{
			ID:         "syn-audio",
			Kind:       capture.StreamKindAudio,
			Channels:   a.Config.Channels,
			SampleRate: a.Config.SampleRate,
		})
	}
	return descs, nil
}

// Open starts a synthetic Source generating both video and (if
// configured) audio frames. sd is not consulted: Open returns the same
// combined Source whichever descriptor it names, and does not check
// that sd is one of the descriptors Probe returned.
func (a *Adapter) Open(ctx context.Context, sd capture.StreamDescriptor) (capture.Source, error) {
	_ = sd
	if a.Config.FrameRate.Num == 0 {
		a.Config.FrameRate = frame.Rational{Num: 30000, Den: 1001}
	}
	return New(ctx, a.Config), nil
}

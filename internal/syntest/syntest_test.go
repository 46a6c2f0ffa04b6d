package syntest

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/prismenc/frame"
)

func TestSourceEmitsVideoFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(ctx, Config{Width: 64, Height: 64, FrameRate: frame.Rational{Num: 120, Den: 1}})

	select {
	case f := <-s.Frames():
		if f.Kind != frame.KindVideo {
			t.Fatalf("Kind = %v, want KindVideo", f.Kind)
		}
		if f.Width != 64 || f.Height != 64 {
			t.Fatalf("dims = %dx%d, want 64x64", f.Width, f.Height)
		}
		if len(f.Planes) != 3 {
			t.Fatalf("got %d planes, want 3", len(f.Planes))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a video frame")
	}
}

func TestSourceEmitsAudioWhenToneConfigured(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(ctx, Config{
		Width: 64, Height: 64,
		FrameRate: frame.Rational{Num: 120, Den: 1},
		ToneHz:    1000,
	})

	sawAudio := false
	deadline := time.After(2 * time.Second)
	for !sawAudio {
		select {
		case f := <-s.Frames():
			if f.Kind == frame.KindAudioPCM {
				sawAudio = true
				if len(f.Samples) != 2 {
					t.Fatalf("got %d channels, want 2 (stereo)", len(f.Samples))
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for an audio frame")
		}
	}
}

func TestSourceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, Config{Width: 32, Height: 32, FrameRate: frame.Rational{Num: 500, Den: 1}})
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Frames channel did not close after cancel")
		}
	}
}

func TestCapabilitiesIsZeroValue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(ctx, Config{Width: 32, Height: 32})
	caps := s.Capabilities()
	if caps.HalfDuplex || caps.Compressed {
		t.Fatalf("caps = %+v, want zero value", caps)
	}
}

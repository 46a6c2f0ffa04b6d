// Package capture defines the narrow contract the pipeline's input
// stage uses to pull raw frames from hardware or software sources. The
// vendor SDKs themselves (Decklink/Vega/NDI) are out of scope per
// spec.md §1; this package is the seam a real adapter plugs into, plus
// the in-repo implementations (internal/syntest, capture/srt) that let
// the pipeline run end to end without one.
package capture

import (
	"context"

	"github.com/zsiec/prismenc/frame"
)

// StreamKind identifies what media a capture stream carries.
type StreamKind int

// Recognized stream kinds.
const (
	StreamKindVideo StreamKind = iota
	StreamKindAudio
	StreamKindAncillary
)

// StreamDescriptor identifies one capturable stream on a device, as
// returned by Adapter.Probe and passed back to Adapter.Open to select
// it.
type StreamDescriptor struct {
	ID         string
	Kind       StreamKind
	Width      int
	Height     int
	FrameRate  frame.Rational
	Interlaced bool
	Channels   int // audio only
	SampleRate int // audio only
}

// Capabilities reports fixed properties of an open Source that the
// pipeline's clock model and filter stages need to know about up front.
type Capabilities struct {
	// HalfDuplex marks capture hardware whose firmware exhibits the
	// 1080i audio/video clock split avclock.HalfDuplexCorrection
	// compensates for. Never derived from frame rate or scan type —
	// set only when the adapter knows its specific hardware needs it.
	HalfDuplex bool
	// Compressed marks a Source that delivers already-encoded NAL
	// buffers (frame.Raw.Compressed) rather than raw pixel planes, the
	// passthrough case spec.md §4.2 names.
	Compressed bool
}

// Source is an open capture stream. Frames returns a channel of raw
// frames that stays open until the source's context is canceled or a
// fatal capture error occurs, at which point it is closed. Every frame
// sent on the channel must eventually have Release called on it by its
// consumer.
type Source interface {
	Frames() <-chan *frame.Raw
	Capabilities() Capabilities
	Close() error
}

// Adapter probes a capture device for its available streams and opens
// one of them. A process may hold adapters for several physical devices
// at once; one Adapter corresponds to one device.
type Adapter interface {
	Probe(ctx context.Context) ([]StreamDescriptor, error)
	Open(ctx context.Context, sd StreamDescriptor) (Source, error)
}

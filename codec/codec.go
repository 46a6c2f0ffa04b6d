// Package codec defines the narrow contract the encoder stage uses to
// drive a video or audio codec library. The codec implementations
// themselves (x264/x265/libfdk_aac) are out of scope for this package;
// it is the seam a real adapter plugs into, plus the in-repo
// codectest pass-through implementation that lets encoder.Stage and its
// VBV-conformance tests run without one.
package codec

import "github.com/zsiec/prismenc/frame"

// OutputStreamDescriptor configures one encoder adapter instance: the
// output stream identity plus the codec parameters the adapter needs at
// Start time.
type OutputStreamDescriptor struct {
	OutputStreamID string
	Video          bool // false selects an audio codec

	// Video fields.
	Width, Height   int
	FrameRate       frame.Rational
	BitrateKbps     int64
	VBVBufKbps      int64
	GOPMin, GOPMax  int
	LookaheadFrames int
	QPFloor         int
	H265            bool

	// Audio fields.
	SampleRate int
	Channels   int
	Codec      string // "mp2", "ac3", "eac3", "aac"

	// LowLatency selects whether the codec should favor minimal
	// internal buffering over compression efficiency. The low/lowest
	// latency system modes skip encoder smoothing entirely, but the
	// codec's own lookahead is a separate knob the adapter controls.
	LowLatency bool
}

// CodedBuffer is one access unit (or audio frame) a codec adapter
// produces from Poll, still expressed in the codec's own internal 27 MHz
// counter — the encoder stage re-bases it via avclock before it becomes
// a frame.Coded.
type CodedBuffer struct {
	Data []byte

	// CodecPTS/CodecDTS are the codec's own internal timestamps, input
	// to avclock.VideoRebase; audio adapters only ever set CodecPTS.
	CodecPTS int64
	CodecDTS int64

	RandomAccess bool // I-picture/IDR access unit, or every audio frame

	// CPBInitial/CPBFinal are the codec's reported VBV arrival times,
	// video only; zero for audio.
	CPBInitial int64
	CPBFinal   int64

	// ExtraSEI holds SEI NAL payloads (e.g. from frame.Raw.ExtraSEI)
	// the adapter has spliced ahead of the coded picture's slice NALs,
	// video only.
	ExtraSEI [][]byte
}

// ParamSet is the subset of an encoder's live-adjustable parameters this
// project exposes via new-value-available flags: bitrate, GOP min/max,
// lookahead, and QP floor. A zero field means "no change requested" for
// that parameter.
type ParamSet struct {
	BitrateKbps     int64
	GOPMin, GOPMax  int
	LookaheadFrames int
	QPFloor         int
}

// ErrReconfigureUnsupported is returned by Reconfigure when a requested
// parameter cannot be applied without closing and reopening the codec.
// The encoder stage responds by calling Close, then Start again, and
// marking the first coded frame after reopen as RandomAccess (an IDR).
type ErrReconfigureUnsupported struct {
	Param string
}

func (e ErrReconfigureUnsupported) Error() string {
	return "codec: live reconfigure unsupported for " + e.Param
}

// VideoAdapter drives a video codec (AVC/HEVC) library.
type VideoAdapter interface {
	Start(sd OutputStreamDescriptor) error
	// Submit hands one raw video frame's pixel planes to the codec,
	// per the codec's buffer-ownership contract (the adapter is
	// responsible for calling frame.Raw.Release once it no longer
	// needs the source buffers).
	Submit(r *frame.Raw) error
	Poll() ([]CodedBuffer, error)
	Reconfigure(p ParamSet) error
	Close() error
}

// AudioAdapter drives an audio codec (MP2/AC-3/E-AC-3/AAC) library.
type AudioAdapter interface {
	Start(sd OutputStreamDescriptor) error
	Submit(r *frame.Raw) error
	Poll() ([]CodedBuffer, error)
	Reconfigure(p ParamSet) error
	Close() error
}

// Package codectest implements a trivial pass-through codec.VideoAdapter
// and codec.AudioAdapter: one coded buffer per submitted frame, with
// enough VBV/GOP bookkeeping to exercise encoder.Stage and the
// enc-smoothing conformance tests without x264/x265/libfdk_aac.
package codectest

import (
	"fmt"
	"sync"

	"github.com/zsiec/prismenc/codec"
	"github.com/zsiec/prismenc/frame"
)

// VideoAdapter emits one CodedBuffer per Submit, marking the first frame
// and every GOPMax'th frame as RandomAccess (the NAL types of a
// compressed passthrough payload are not inspected), and tracks a VBV fullness
// estimate from sd.VBVBufKbps/BitrateKbps so CPBInitial/CPBFinal are
// non-degenerate.
type VideoAdapter struct {
	mu      sync.Mutex
	sd      codec.OutputStreamDescriptor
	started bool
	pending []codec.CodedBuffer

	frameIdx     int64
	codecClock   int64
	vbvFullness  int64 // bits currently assumed buffered
	bitsPerFrame int64
	vbvCapacity  int64
}

var _ codec.VideoAdapter = (*VideoAdapter)(nil)

// NewVideoAdapter constructs an unstarted VideoAdapter.
func NewVideoAdapter() *VideoAdapter { return &VideoAdapter{} }

func (a *VideoAdapter) Start(sd codec.OutputStreamDescriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sd.FrameRate.Num == 0 || sd.FrameRate.Den == 0 {
		return fmt.Errorf("codectest: invalid frame rate")
	}
	a.sd = sd
	a.started = true
	a.frameIdx = 0
	a.codecClock = 0
	a.vbvFullness = 0
	a.vbvCapacity = sd.VBVBufKbps * 1000
	if sd.BitrateKbps > 0 && sd.FrameRate.Num > 0 {
		a.bitsPerFrame = sd.BitrateKbps * 1000 * int64(sd.FrameRate.Den) / int64(sd.FrameRate.Num)
	}
	return nil
}

func (a *VideoAdapter) Submit(r *frame.Raw) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return fmt.Errorf("codectest: Submit before Start")
	}

	data := passthroughPayload(r)
	randomAccess := a.frameIdx == 0
	if a.sd.GOPMax > 0 && a.frameIdx%int64(a.sd.GOPMax) == 0 {
		randomAccess = true
	}

	frameDurTicks := int64(0)
	if a.sd.FrameRate.Num > 0 {
		frameDurTicks = 27_000_000 * int64(a.sd.FrameRate.Den) / int64(a.sd.FrameRate.Num)
	}
	codecPTS := a.codecClock
	codecDTS := a.codecClock // pass-through codec never reorders: DTS == PTS

	cpbInitial := a.vbvFullness
	a.vbvFullness += a.bitsPerFrame
	if a.vbvCapacity > 0 && a.vbvFullness > a.vbvCapacity {
		a.vbvFullness = a.vbvCapacity
	}
	cpbFinal := a.vbvFullness

	a.pending = append(a.pending, codec.CodedBuffer{
		Data:         data,
		CodecPTS:     codecPTS,
		CodecDTS:     codecDTS,
		RandomAccess: randomAccess,
		CPBInitial:   cpbInitial,
		CPBFinal:     cpbFinal,
		ExtraSEI:     r.ExtraSEI,
	})

	a.frameIdx++
	a.codecClock += frameDurTicks
	r.Release()
	return nil
}

func (a *VideoAdapter) Poll() ([]codec.CodedBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out, nil
}

func (a *VideoAdapter) Reconfigure(p codec.ParamSet) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.BitrateKbps > 0 {
		a.sd.BitrateKbps = p.BitrateKbps
		if a.sd.FrameRate.Num > 0 {
			a.bitsPerFrame = p.BitrateKbps * 1000 * int64(a.sd.FrameRate.Den) / int64(a.sd.FrameRate.Num)
		}
	}
	if p.GOPMin > 0 {
		a.sd.GOPMin = p.GOPMin
	}
	if p.GOPMax > 0 {
		a.sd.GOPMax = p.GOPMax
	}
	if p.LookaheadFrames > 0 {
		a.sd.LookaheadFrames = p.LookaheadFrames
	}
	if p.QPFloor > 0 {
		a.sd.QPFloor = p.QPFloor
	}
	return nil
}

func (a *VideoAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = false
	return nil
}

// passthroughPayload returns the already-compressed NAL bytes for a
// passthrough frame unchanged, or a tiny synthetic access unit standing
// in for "this pass-through codec does not actually compress pixels."
func passthroughPayload(r *frame.Raw) []byte {
	if r.Compressed && len(r.NALUs) > 0 {
		var out []byte
		for _, n := range r.NALUs {
			out = append(out, 0x00, 0x00, 0x00, 0x01)
			out = append(out, n...)
		}
		return out
	}
	return []byte{0x00, 0x00, 0x00, 0x01, 0x65} // synthetic IDR-slice NAL header
}

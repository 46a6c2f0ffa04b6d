package codectest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zsiec/prismenc/codec"
	"github.com/zsiec/prismenc/frame"
)

// AudioAdapter emits one CodedBuffer per Submit, serializing the
// source's planar S32P samples into a flat byte payload (standing in
// for whatever MP2/AC-3/AAC bitstream a real codec would produce) and
// incrementing its own codec clock by one audio frame's duration.
type AudioAdapter struct {
	mu         sync.Mutex
	sd         codec.OutputStreamDescriptor
	started    bool
	pending    []codec.CodedBuffer
	codecClock int64
}

var _ codec.AudioAdapter = (*AudioAdapter)(nil)

// NewAudioAdapter constructs an unstarted AudioAdapter.
func NewAudioAdapter() *AudioAdapter { return &AudioAdapter{} }

func (a *AudioAdapter) Start(sd codec.OutputStreamDescriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sd.SampleRate <= 0 {
		return fmt.Errorf("codectest: invalid sample rate")
	}
	a.sd = sd
	a.started = true
	a.codecClock = 0
	return nil
}

func (a *AudioAdapter) Submit(r *frame.Raw) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return fmt.Errorf("codectest: Submit before Start")
	}

	buf := make([]byte, 0, r.SampleCount*len(r.Samples)*4)
	for _, ch := range r.Samples {
		for _, s := range ch {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(s))
			buf = append(buf, b[:]...)
		}
	}

	durTicks := int64(0)
	if a.sd.SampleRate > 0 && r.SampleCount > 0 {
		durTicks = 27_000_000 * int64(r.SampleCount) / int64(a.sd.SampleRate)
	}

	a.pending = append(a.pending, codec.CodedBuffer{
		Data:         buf,
		CodecPTS:     a.codecClock,
		CodecDTS:     a.codecClock,
		RandomAccess: true, // every audio frame is independently decodable
	})

	a.codecClock += durTicks
	r.Release()
	return nil
}

func (a *AudioAdapter) Poll() ([]codec.CodedBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out, nil
}

func (a *AudioAdapter) Reconfigure(p codec.ParamSet) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.BitrateKbps > 0 {
		a.sd.BitrateKbps = p.BitrateKbps
	}
	return nil
}

func (a *AudioAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = false
	return nil
}

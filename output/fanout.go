package output

import (
	"context"

	"github.com/zsiec/prismenc/queue"
	"github.com/zsiec/prismenc/tsmux"
)

// FanOut duplicates every buffer popped from one upstream queue (the
// mux-smoothing stage's output) onto N per-destination queues, one per
// output.Stage. A fresh copy of Data is required, not a shared slice:
// Stage.applyFaultInjection mutates a destination's bytes in place
// (dropping, scrambling, corrupting packets), and one destination's
// fault injection must never leak into another's wire feed.
type FanOut struct {
	in   *queue.Queue[*tsmux.Buffer]
	outs []*queue.Queue[*tsmux.Buffer]
}

// NewFanOut constructs a FanOut reading from in and duplicating onto
// every queue in outs. outs must be non-empty.
func NewFanOut(in *queue.Queue[*tsmux.Buffer], outs []*queue.Queue[*tsmux.Buffer]) *FanOut {
	return &FanOut{in: in, outs: outs}
}

// Run pops buffers until the input queue is canceled, pushing an
// independent copy to every destination queue. On return it cancels
// every destination queue, cascading the shutdown drain to each
// output.Stage (spec.md §3's producer-exit rule) — this is the sole
// producer for all of them.
func (f *FanOut) Run(ctx context.Context) error {
	defer func() {
		for _, q := range f.outs {
			q.Cancel()
		}
	}()
	for {
		buf, ok := f.in.Pop()
		if !ok {
			return nil
		}
		for i, q := range f.outs {
			var cp *tsmux.Buffer
			if i == len(f.outs)-1 {
				cp = buf // last destination gets the original, no extra copy
			} else {
				data := make([]byte, len(buf.Data))
				copy(data, buf.Data)
				pcrs := make([]int64, len(buf.PCRs27M))
				copy(pcrs, buf.PCRs27M)
				cp = &tsmux.Buffer{Data: data, PCRs27M: pcrs}
			}
			q.Push(cp)
		}
	}
}

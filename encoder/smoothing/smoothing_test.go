package smoothing

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/prismenc/frame"
	"github.com/zsiec/prismenc/queue"
)

func testStage(t *testing.T) (*Stage, *queue.Queue[*frame.Coded], *queue.Queue[*frame.Coded], *time.Time) {
	t.Helper()
	in := queue.New[*frame.Coded]("enc-smoothing-in", 64, queue.OverflowBlock, nil)
	out := queue.New[*frame.Coded]("enc-smoothing-out", 64, queue.OverflowBlock, nil)
	s := New(Config{
		OutputStreamID: "prog1-video",
		FrameRate:      frame.Rational{Num: 25, Den: 1},
		BitrateKbps:    5000,
		VBVBufKbps:     2500,
	}, in, out)

	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }
	return s, in, out, &clock
}

func (s *Stage) pendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func TestEnqueueReleasesImmediatelyUnderSteadyRate(t *testing.T) {
	s, _, out, _ := testStage(t)
	for i := 0; i < 5; i++ {
		s.enqueue(&frame.Coded{PTS: int64(i)})
	}
	if n := out.Len(); n != 5 {
		t.Fatalf("out.Len() = %d, want 5 (steady low-duty-cycle arrivals release immediately)", n)
	}
	if s.pendingLen() != 0 {
		t.Fatalf("pendingLen() = %d, want 0", s.pendingLen())
	}
}

func TestBurstBuildsBacklogPastVBVBuffer(t *testing.T) {
	s, _, out, _ := testStage(t)
	// frameDurTicks = 27_000_000/25 = 1_080_000; vbvBufDurTicks =
	// 2500*27_000_000/5000 = 13_500_000 -> admits 12 releases before the
	// 13th push trips the gate (13*1_080_000 = 14_040_000 >= 13_500_000).
	for i := 0; i < 20; i++ {
		s.enqueue(&frame.Coded{PTS: int64(i)})
	}
	if n := out.Len(); n != 12 {
		t.Fatalf("out.Len() = %d, want 12", n)
	}
	if n := s.pendingLen(); n != 8 {
		t.Fatalf("pendingLen() = %d, want 8", n)
	}
}

func TestBacklogDrainsOnceWallClockCatchesUp(t *testing.T) {
	s, _, out, clock := testStage(t)
	for i := 0; i < 20; i++ {
		s.enqueue(&frame.Coded{PTS: int64(i)})
	}
	if out.Len() != 12 {
		t.Fatalf("precondition: out.Len() = %d, want 12", out.Len())
	}

	*clock = clock.Add(2 * time.Second)
	s.enqueue(&frame.Coded{PTS: 999})

	if n := s.pendingLen(); n != 0 {
		t.Fatalf("pendingLen() = %d, want 0 after the backlog fully decays", n)
	}
	if n := out.Len(); n != 21 {
		t.Fatalf("out.Len() = %d, want 21 (12 + 8 backlog + the probe frame)", n)
	}
}

func TestFIFOOrderPreservedAcrossBacklog(t *testing.T) {
	s, _, out, clock := testStage(t)
	for i := 0; i < 20; i++ {
		s.enqueue(&frame.Coded{PTS: int64(i)})
	}
	*clock = clock.Add(2 * time.Second)
	s.enqueue(&frame.Coded{PTS: 20})

	for want := int64(0); want <= 20; want++ {
		c, ok := out.Pop()
		if !ok {
			t.Fatalf("expected a frame at position %d", want)
		}
		if c.PTS != want {
			t.Fatalf("PTS = %d, want %d (FIFO order)", c.PTS, want)
		}
	}
}

func TestResetFillDrainsBacklogImmediately(t *testing.T) {
	s, _, out, _ := testStage(t)
	for i := 0; i < 20; i++ {
		s.enqueue(&frame.Coded{PTS: int64(i)})
	}
	if s.pendingLen() == 0 {
		t.Fatal("precondition: expected a backlog")
	}
	s.ResetFill()
	s.enqueue(&frame.Coded{PTS: 999})

	if n := s.pendingLen(); n != 0 {
		t.Fatalf("pendingLen() = %d, want 0: a zeroed fill estimate admits the entire backlog", n)
	}
	if n := out.Len(); n != 21 {
		t.Fatalf("out.Len() = %d, want 21 (20 enqueued plus the probe frame)", n)
	}
}

func TestZeroVBVConfigDisablesPacing(t *testing.T) {
	in := queue.New[*frame.Coded]("in", 64, queue.OverflowBlock, nil)
	out := queue.New[*frame.Coded]("out", 64, queue.OverflowBlock, nil)
	s := New(Config{OutputStreamID: "prog1-video"}, in, out)
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	for i := 0; i < 50; i++ {
		s.enqueue(&frame.Coded{PTS: int64(i)})
	}
	if n := out.Len(); n != 50 {
		t.Fatalf("out.Len() = %d, want 50 (no VBV/bitrate configured disables pacing)", n)
	}
}

func TestRunDrainsBacklogOnCancel(t *testing.T) {
	s, in, out, _ := testStage(t)
	for i := 0; i < 20; i++ {
		in.Push(&frame.Coded{PTS: int64(i)})
	}
	in.Cancel()

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := out.Len(); n != 20 {
		t.Fatalf("out.Len() = %d, want all 20 frames drained", n)
	}
	if s.Stats().FramesIn != 20 || s.Stats().FramesOut != 20 {
		t.Fatalf("Stats = %+v, want 20/20", s.Stats())
	}
	if s.pendingLen() != 0 {
		t.Fatalf("pendingLen() = %d, want 0 after drain", s.pendingLen())
	}
}

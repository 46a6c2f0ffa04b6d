package avclock

import (
	"testing"
	"time"
)

func TestOriginFirstFrameNeverNegative(t *testing.T) {
	var o Origin
	first := o.Capture(123456)
	if first != 123456 {
		t.Fatalf("first Capture = %d, want 123456", first)
	}

	for _, later := range []int64{123456, 200000, 9000000} {
		if off := o.Offset(later); off < 0 {
			t.Fatalf("Offset(%d) = %d, want >= 0", later, off)
		}
	}
}

func TestOriginOnlyFirstCallSticks(t *testing.T) {
	var o Origin
	o.Capture(500)
	got := o.Capture(9999) // must not move the origin
	if got != 500 {
		t.Fatalf("origin moved to %d on second Capture, want 500", got)
	}
}

func TestVideoRebase(t *testing.T) {
	// codec reports pts=1000, dts=700 (a 300-tick reorder delay); source
	// audio clock is at 50000; scheduling offset (accumulated pipeline
	// latency budget) is 2000.
	dts, pts := VideoRebase(50000, 2000, 1000, 700)
	wantDTS := int64(50000 + 2000 - 300)
	wantPTS := wantDTS + 300
	if dts != wantDTS || pts != wantPTS {
		t.Fatalf("VideoRebase = (%d, %d), want (%d, %d)", dts, pts, wantDTS, wantPTS)
	}
	if dts > pts {
		t.Fatal("real_dts must not exceed real_pts")
	}
}

func TestAudioSchedule(t *testing.T) {
	got := AudioSchedule(10000, 500, MSToTicks(-33))
	want := int64(10000 + 500 + MSToTicks(-33))
	if got != want {
		t.Fatalf("AudioSchedule = %d, want %d", got, want)
	}
}

func TestMSToTicks(t *testing.T) {
	if got := MSToTicks(1000); got != HZ27M {
		t.Fatalf("MSToTicks(1000) = %d, want %d", got, HZ27M)
	}
}

func TestHalfDuplexCorrectionAppliesOnceAfterReset(t *testing.T) {
	h := &HalfDuplexCorrection{FrameDurationTicks: 900900} // 1 frame @ 29.97fps
	drift := int64(900900*3 + 123)                         // 3 whole frames + fractional remainder

	// Before any Reset, Apply is a passthrough.
	if got := h.Apply(5000, drift); got != 5000 {
		t.Fatalf("Apply before Reset = %d, want passthrough 5000", got)
	}

	h.Reset()
	corrected := h.Apply(5000, drift)
	wantFractional := drift % 900900
	if corrected != 5000-wantFractional {
		t.Fatalf("Apply after Reset = %d, want %d", corrected, 5000-wantFractional)
	}

	// The correction is one-shot: the next Apply is a passthrough again.
	if got := h.Apply(5000, drift); got != 5000 {
		t.Fatalf("Apply after consuming the reset = %d, want passthrough 5000", got)
	}
}

func TestMuxClockAdvanceAndWaitPast(t *testing.T) {
	c := NewMuxClock()
	if c.Value() != 0 {
		t.Fatalf("initial Value() = %d, want 0", c.Value())
	}

	done := make(chan struct{})
	var got int64
	var ok bool
	go func() {
		got, ok = c.WaitPast(0, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Advance(42)

	select {
	case <-done:
		if !ok || got != 42 {
			t.Fatalf("WaitPast = (%d, %v), want (42, true)", got, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitPast did not unblock after Advance")
	}
}

func TestMuxClockWaitPastCancel(t *testing.T) {
	c := NewMuxClock()
	cancel := make(chan struct{})
	done := make(chan bool, 1)
	go func() {
		_, ok := c.WaitPast(0, cancel)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	close(cancel)

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected WaitPast to report false on cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitPast did not unblock after cancel")
	}
}

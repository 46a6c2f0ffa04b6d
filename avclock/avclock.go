// Package avclock implements the cross-stream clock model this pipeline
// runs on: three 27 MHz clocks (the capture hardware's audio and video
// PTS counters, and each codec's internal counter, matching the MPEG-2
// Systems 27 MHz system clock reference), with the audio hardware clock
// elected master so video timestamps can be re-based onto it across
// signal drop-outs where the hardware clocks jump at different rates.
package avclock

import "sync"

// HZ27M is the pipeline's reference clock rate. All PTS/DTS values in
// this package and its callers are expressed in this unit unless stated
// otherwise.
const HZ27M = 27_000_000

// MSToTicks converts a millisecond bias (e.g. the ac3_offset_ms / mp2_offset_ms
// / audio_offset_ms runtime control variables) to 27 MHz ticks.
func MSToTicks(ms int64) int64 {
	return ms * (HZ27M / 1000)
}

// Origin establishes the pipeline's PTS origin from the first raw frame's
// audio hardware clock: on the very first frame, the audio hardware clock
// is captured as the offset origin, so later frames never produce a
// negative output PTS. Origin is safe for concurrent use by every input
// stage feeding the same program; only the first call actually sets the
// origin.
type Origin struct {
	once  sync.Once
	value int64
}

// Capture records hwAudioPTS as the origin if this is the first call, and
// always returns the established origin (this call's value, or an
// earlier caller's).
func (o *Origin) Capture(hwAudioPTS int64) int64 {
	o.once.Do(func() { o.value = hwAudioPTS })
	return o.value
}

// Offset returns hwAudioPTS relative to the established origin. Because
// Capture establishes the origin from the very first frame observed, this
// is guaranteed non-negative for every later frame from a monotonic
// hardware clock.
func (o *Origin) Offset(hwAudioPTS int64) int64 {
	return hwAudioPTS - o.Capture(hwAudioPTS)
}

// VideoRebase computes a video coded frame's (real_dts, real_pts) from
// the codec's own internal PTS/DTS counter, the source raw frame's
// audio-master clock reading, and a scheduling offset (the accumulated
// encoder + smoothing latency budget for this output stream). This is
// the re-base formula the encoder stage applies to every coded video
// frame before it is pushed downstream:
//
//	real_dts = hwAudioPTS + schedulingOffset - (codecPTS - codecDTS)
//	real_pts = real_dts + (codecPTS - codecDTS)
//
// The codec's own counter never reaches the mux; only the audio-master-
// relative values do, which is what lets video continue tracking audio
// across a capture-clock discontinuity.
func VideoRebase(hwAudioPTS, schedulingOffset, codecPTS, codecDTS int64) (realDTS, realPTS int64) {
	delta := codecPTS - codecDTS
	realDTS = hwAudioPTS + schedulingOffset - delta
	realPTS = realDTS + delta
	return realDTS, realPTS
}

// AudioSchedule computes an audio coded frame's scheduling PTS directly
// from the audio-master clock: the source raw frame's hwAudioPTS, plus
// the codec's fixed lookahead, plus the configured per-codec
// audio_offset_ms bias (already converted to ticks via MSToTicks).
func AudioSchedule(hwAudioPTS, lookaheadTicks, offsetTicks int64) int64 {
	return hwAudioPTS + lookaheadTicks + offsetTicks
}

// HalfDuplexCorrection isolates the 1080i half-duplex capture-card
// correction: a legacy, hardware-specific fixup that must never be
// applied unless the capture adapter reports HalfDuplex capability for
// the device that produced the frame. The correction decomposes the
// audio/video drift Δ into whole-frame and fractional components and
// subtracts the fractional component from the audio encoder's scheduled
// PTS on the first frame after a clock reset, anchoring audio to the
// nearest video-frame boundary.
type HalfDuplexCorrection struct {
	// FrameDurationTicks is one video frame's duration in 27 MHz ticks
	// (e.g. 27_000_000*1001/30000 for 29.97 fps).
	FrameDurationTicks int64

	mu      sync.Mutex
	pending bool // set by Reset, cleared after the next Apply
}

// Reset arms the correction to apply on the next Apply call, mirroring a
// capture-clock discontinuity (signal loss/reacquire) being observed by
// the input stage.
func (h *HalfDuplexCorrection) Reset() {
	h.mu.Lock()
	h.pending = true
	h.mu.Unlock()
}

// Apply returns the scheduled audio PTS corrected for half-duplex drift,
// subtracting the fractional component of Δ on the first call after a
// Reset and passing scheduledPTS through unchanged otherwise. drift is
// C_hw_audio - C_hw_video for the current frame (HWTimestamps.Drift()).
func (h *HalfDuplexCorrection) Apply(scheduledPTS, drift int64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.pending || h.FrameDurationTicks <= 0 {
		return scheduledPTS
	}
	h.pending = false

	fractional := drift % h.FrameDurationTicks
	return scheduledPTS - fractional
}

// MuxClock is the shared, broadcast software clock the mux-smoothing
// stage uses to time each transmission without polling: a global
// last-value resource broadcast once per audio frame by the input
// stage, waited on by however many smoothing threads need to recompute
// their schedule.
type MuxClock struct {
	mu   sync.Mutex
	cond *sync.Cond
	last int64
}

// NewMuxClock creates a MuxClock at tick 0.
func NewMuxClock() *MuxClock {
	c := &MuxClock{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Advance records a new audio-pts tick and wakes every waiter. Called
// once per audio frame by the input stage.
func (c *MuxClock) Advance(tick int64) {
	c.mu.Lock()
	c.last = tick
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Value returns the most recently advanced tick without blocking.
func (c *MuxClock) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// WaitPast blocks until the clock advances to a value strictly greater
// than after, or until the cancel channel is closed, whichever comes
// first. It returns the observed value and whether it is > after (false
// on cancellation).
func (c *MuxClock) WaitPast(after int64, cancel <-chan struct{}) (int64, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-cancel:
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.last <= after {
		select {
		case <-cancel:
			return c.last, false
		default:
		}
		c.cond.Wait()
		select {
		case <-cancel:
			return c.last, false
		default:
		}
	}
	return c.last, true
}

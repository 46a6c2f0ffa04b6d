package ctrl

import "sync"

// DropFlags tracks which loss-of-signal drop flags are currently set,
// keyed by flag name (the input stage sets "video-encoder-drop",
// "audio-encoder-drop" and "mux-drop"). It is set by the input stage the
// instant it detects LOS and cleared by whichever stage observes the
// recovery (spec.md §5: "drop-flags, dedicated mutex, set by input on
// LOS, cleared by the observing stage") — kept separate from Block
// because it is mutated by the stages themselves on every frame's
// signal-presence check, not by the command parser.
type DropFlags struct {
	mu  sync.Mutex
	set map[string]bool
}

// NewDropFlags constructs an empty DropFlags.
func NewDropFlags() *DropFlags {
	return &DropFlags{set: make(map[string]bool)}
}

// Set marks streamID as in loss-of-signal.
func (d *DropFlags) Set(streamID string) {
	d.mu.Lock()
	d.set[streamID] = true
	d.mu.Unlock()
}

// Clear marks streamID as recovered.
func (d *DropFlags) Clear(streamID string) {
	d.mu.Lock()
	delete(d.set, streamID)
	d.mu.Unlock()
}

// IsSet reports whether streamID is currently flagged as in LOS.
func (d *DropFlags) IsSet(streamID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.set[streamID]
}

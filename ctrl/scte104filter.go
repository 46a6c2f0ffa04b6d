package ctrl

import "sync"

// SCTE104FilterAll is the sentinel for SCTE104Filter.ASIndex or
// DPIPIDIndex meaning "all", spelled "all" on the wire by
// scte104.filter.add's AS_index=N|all / DPI_PID_index=N|all syntax.
const SCTE104FilterAll = -1

// SCTE104Filter selects which SCTE-104 VANC messages the capture/filter
// stage passes through, by ancillary-data PID and, within it, by
// AS_index/DPI_PID_index (or SCTE104FilterAll for either).
type SCTE104Filter struct {
	PID         uint16
	ASIndex     int
	DPIPIDIndex int
}

var (
	scte104Mu      sync.Mutex
	scte104Filters []SCTE104Filter
)

// SCTE104FilterAdd appends one filter rule, the scte104.filter.add
// command.
func SCTE104FilterAdd(f SCTE104Filter) {
	scte104Mu.Lock()
	defer scte104Mu.Unlock()
	scte104Filters = append(scte104Filters, f)
}

// SCTE104FiltersClear removes every filter rule, the
// scte104.filters.clear command.
func SCTE104FiltersClear() {
	scte104Mu.Lock()
	defer scte104Mu.Unlock()
	scte104Filters = nil
}

// SCTE104Filters returns a snapshot of the current filter rules.
func SCTE104Filters() []SCTE104Filter {
	scte104Mu.Lock()
	defer scte104Mu.Unlock()
	out := make([]SCTE104Filter, len(scte104Filters))
	copy(out, scte104Filters)
	return out
}

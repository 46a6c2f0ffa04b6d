package output

import "fmt"

// NewWriter dials the transport named by t, picking the concrete Writer
// implementation from its Scheme. ssrc is only used for an rtp: target.
func NewWriter(t Target, ssrc uint32) (Writer, error) {
	switch t.Scheme {
	case SchemeUDP:
		return NewUDPWriter(t)
	case SchemeRTP:
		return NewRTPWriter(t, ssrc)
	case SchemeFile:
		return NewFileWriter(t)
	case SchemeASI:
		return NewASIWriter(t)
	default:
		return nil, fmt.Errorf("output: unsupported target scheme %d", t.Scheme)
	}
}

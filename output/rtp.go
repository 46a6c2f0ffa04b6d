package output

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/zsiec/prismenc/scte"
)

// rtpPayloadTypeMP2T is the static RTP payload type for MPEG2-TS per
// RFC 2250 §2.
const rtpPayloadTypeMP2T = 33

// rtpClockHz is the RTP clock rate RFC 2250 mandates for the MP2T
// payload type, the same 90 kHz timebase scte.TicksToMPEGPTS already
// converts 27 MHz pipeline ticks to.
const rtpClockHz = scte.MPEGPTSHz

// RTPWriter wraps a UDP destination, prepending a 12-byte RTP header
// (RFC 3550) ahead of each datagram's worth of transport stream
// packets, with payload type 33 (MP2T) and a 90 kHz timestamp derived
// from the most recent PCRMark.
type RTPWriter struct {
	udp    *UDPWriter
	ssrc   uint32
	seq    uint16
	lastTS int64
}

// NewRTPWriter constructs an RTPWriter over a freshly dialed UDP
// destination. ssrc identifies this stream's RTP synchronization
// source.
func NewRTPWriter(t Target, ssrc uint32) (*RTPWriter, error) {
	if t.Scheme != SchemeRTP {
		return nil, fmt.Errorf("output: NewRTPWriter requires an rtp:// target, got scheme %d", t.Scheme)
	}
	pktSize := t.PktSize
	if pktSize <= 0 {
		pktSize = defaultPktSize
	}
	// RTP-over-UDP datagrams are TS-packet groups plus a fixed 12-byte
	// header; leave the UDPWriter's own splitting at the TS-packet-group
	// granularity and prepend the header per datagram in Write.
	udpTarget := t
	udpTarget.PktSize = pktSize
	udp, err := NewUDPWriter(udpTarget)
	if err != nil {
		return nil, err
	}
	return &RTPWriter{udp: udp, ssrc: ssrc}, nil
}

// Write splits data into the same PktSize-aligned TS-packet groups
// UDPWriter uses, prefixing each with an RTP header whose timestamp
// tracks the most recently seen PCRMark (held steady between marks, the
// same way a real MP2T-over-RTP sender free-runs its clock between PCR
// updates).
func (w *RTPWriter) Write(ctx context.Context, data []byte, pcrs []PCRMark) error {
	nextPCR := 0
	for off := 0; off < len(data); off += w.udp.pktSize {
		end := off + w.udp.pktSize
		if end > len(data) {
			end = len(data)
		}
		for nextPCR < len(pcrs) && pcrs[nextPCR].Offset <= off {
			w.lastTS = int64(scte.TicksToMPEGPTS(pcrs[nextPCR].PCR27M))
			nextPCR++
		}

		pkt := make([]byte, 12+(end-off))
		writeRTPHeader(pkt, w.ssrc, w.seq, uint32(w.lastTS))
		copy(pkt[12:], data[off:end])
		w.seq++

		if err := w.udp.writeRaw(ctx, pkt); err != nil {
			return fmt.Errorf("output: rtp write: %w", err)
		}
	}
	return nil
}

// Close closes the underlying UDP socket.
func (w *RTPWriter) Close() error {
	return w.udp.Close()
}

func writeRTPHeader(buf []byte, ssrc uint32, seq uint16, ts uint32) {
	buf[0] = 0x80 // version 2, no padding/extension/CSRC
	buf[1] = rtpPayloadTypeMP2T
	binary.BigEndian.PutUint16(buf[2:4], seq)
	binary.BigEndian.PutUint32(buf[4:8], ts)
	binary.BigEndian.PutUint32(buf[8:12], ssrc)
}

package tsmux

import "fmt"

// WritePES packetizes one access unit as a PES packet for the given
// stream. pts90k/dts90k are 90 kHz splice_time-style values (already the
// output of avclock's rebasing); nil omits that field. When sc is the
// program's PCR-bearing stream, pcr27M must be supplied so the first
// transport packet carries a program_clock_reference.
func (a *Assembler) WritePES(sc StreamConfig, pts90k, dts90k *int64, data []byte, pcr27M *int64) ([][]byte, error) {
	if pts90k == nil && dts90k != nil {
		return nil, fmt.Errorf("tsmux: dts without pts is not representable in PES optional header")
	}

	header := []byte{0x00, 0x00, 0x01, pesStreamID(sc.Kind)}

	var optional []byte
	flags6 := byte(0x80) // marker bits
	flags7 := byte(0x00)
	headerDataLength := 0

	switch {
	case pts90k != nil && dts90k != nil:
		flags7 |= 0xC0
		headerDataLength = 10
	case pts90k != nil:
		flags7 |= 0x80
		headerDataLength = 5
	}

	optional = append(optional, flags6, flags7, byte(headerDataLength))
	if pts90k != nil && dts90k != nil {
		optional = append(optional, encodePTSOrDTS(0x3, *pts90k)...)
		optional = append(optional, encodePTSOrDTS(0x1, *dts90k)...)
	} else if pts90k != nil {
		optional = append(optional, encodePTSOrDTS(0x2, *pts90k)...)
	}

	packetLength := len(optional) + len(data)
	if packetLength > 0xFFFF {
		packetLength = 0 // unbounded, standard convention for video-elementary streams
	}
	header = append(header, byte(packetLength>>8), byte(packetLength))
	header = append(header, optional...)

	payload := append(header, data...)
	return a.packetize(sc.PID, payload, false, pcr27M), nil
}

// encodePTSOrDTS packs a 90 kHz timestamp into the standard 5-byte
// PES PTS/DTS field, with the given 4-bit prefix ('0010' for PTS-only,
// '0011' for PTS-of-a-pair, '0001' for DTS-of-a-pair).
func encodePTSOrDTS(prefix byte, ts int64) []byte {
	v := uint64(ts) & 0x1FFFFFFFF // 33 bits
	b := make([]byte, 5)
	b[0] = prefix<<4 | byte(v>>29)&0x0E | 0x01
	b[1] = byte(v >> 22)
	b[2] = byte(v>>14)&0xFE | 0x01
	b[3] = byte(v >> 7)
	b[4] = byte(v<<1)&0xFE | 0x01
	return b
}

// WriteSCTE35 packetizes an already-encoded SCTE-35 splice_info_section
// (see the scte package's Encode) as a transport stream section, the
// way real-world SCTE-104-to-35 conversion delivers splice points
// downstream: a PSI-style section on its own PID, not wrapped in PES.
func (a *Assembler) WriteSCTE35(pid uint16, section []byte) [][]byte {
	return a.packetize(pid, section, true, nil)
}

// WriteSMPTE2038 packetizes a raw SMPTE-2038 ancillary data PES payload
// (already VANC-encoded by the capture/codec boundary) for passthrough
// to the output stream unmodified.
func (a *Assembler) WriteSMPTE2038(sc StreamConfig, pts90k *int64, vancPayload []byte) ([][]byte, error) {
	return a.WritePES(sc, pts90k, nil, vancPayload, nil)
}

package tsmux

// packetize splits payload into PacketSize-byte transport stream
// packets for pid, inserting the pointer_field byte ahead of PSI
// payloads. For PSI, and for a packet that already carries a PCR
// adaptation field, the unused tail of the final packet is filled with
// 0xFF; otherwise the final packet is padded with an adaptation field
// of 0xFF stuffing bytes. If pcr27M is non-nil, the first packet carries an adaptation field
// with a program_clock_reference derived from it.
func (a *Assembler) packetize(pid uint16, payload []byte, isPSI bool, pcr27M *int64) [][]byte {
	var packets [][]byte
	offset := 0
	first := true

	for offset < len(payload) || first {
		pkt := make([]byte, PacketSize)
		pkt[0] = SyncByte

		pusi := first
		pkt[1] = byte(pid>>8) & 0x1F
		if pusi {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(pid)

		headerEnd := 4
		hasAdaptation := false

		if first && pcr27M != nil {
			hasAdaptation = true
			afLen := writeAdaptationField(pkt[4:], *pcr27M, false)
			headerEnd = 4 + 1 + afLen
		}

		dataStart := headerEnd
		if first && isPSI {
			pkt[dataStart] = 0x00 // pointer_field
			dataStart++
		}

		avail := PacketSize - dataStart
		n := len(payload) - offset
		if n > avail {
			n = avail
		}
		copy(pkt[dataStart:], payload[offset:offset+n])
		offset += n

		remaining := avail - n
		if remaining > 0 {
			if !hasAdaptation && !isPSI {
				// Need an adaptation field purely for stuffing.
				hasAdaptation = true
				stuffLen := remaining - 1
				if stuffLen < 0 {
					stuffLen = 0
				}
				afStart := 4
				pkt2 := make([]byte, PacketSize)
				copy(pkt2, pkt[:4])
				pkt2[afStart] = byte(stuffLen)
				for i := 0; i < stuffLen; i++ {
					pkt2[afStart+1+i] = 0xFF
				}
				copy(pkt2[afStart+1+stuffLen:], pkt[dataStart:dataStart+n])
				pkt = pkt2
			} else {
				for i := PacketSize - remaining; i < PacketSize; i++ {
					pkt[i] = 0xFF
				}
			}
		}

		cc := a.nextCC(pid)
		if hasAdaptation {
			pkt[3] = 0x30 | cc // adaptation_field + payload present
		} else {
			pkt[3] = 0x10 | cc // payload only
		}

		packets = append(packets, pkt)
		first = false
	}

	return packets
}

// writeAdaptationField writes an adaptation field into buf (which must
// be at least PacketSize-4 bytes) carrying a PCR if withPCR, returning
// the adaptation_field_length written (excluding the length byte
// itself).
func writeAdaptationField(buf []byte, pcr27M int64, discontinuity bool) int {
	const afLen = 7 // flags(1) + PCR(6)
	buf[0] = byte(afLen)
	flags := byte(0x10) // PCR_flag
	if discontinuity {
		flags |= 0x80
	}
	buf[1] = flags

	base := pcr27M / 300
	ext := pcr27M % 300

	buf[2] = byte(base >> 25)
	buf[3] = byte(base >> 17)
	buf[4] = byte(base >> 9)
	buf[5] = byte(base >> 1)
	buf[6] = byte(base<<7) | 0x7E | byte(ext>>8)
	buf[7] = byte(ext)

	return afLen
}

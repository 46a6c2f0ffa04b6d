package tsmux

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// WritePAT returns the transport stream packets for this Assembler's
// Program Association Table.
func (a *Assembler) WritePAT() [][]byte {
	section := make([]byte, 0, 12)
	section = append(section, tableIDPAT)

	body := []byte{
		0x00, 0x01, // transport_stream_id
		0xC1,       // reserved(2) + version(5) + current_next(1)
		0x00, 0x00, // section_number, last_section_number
		byte(a.program.ProgramNumber >> 8), byte(a.program.ProgramNumber),
		byte(a.program.PMTPID>>8) | 0xE0, byte(a.program.PMTPID),
	}
	sectionLength := len(body) + 4 // + CRC32
	section = append(section, 0x80|byte(sectionLength>>8), byte(sectionLength))
	section = append(section, body...)
	crc := computeCRC32(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))

	return a.packetize(PIDPAT, section, true, nil)
}

// WritePMT returns the transport stream packets for this Assembler's
// Program Map Table.
func (a *Assembler) WritePMT() ([][]byte, error) {
	section := []byte{tableIDPMT}

	body := []byte{
		byte(a.program.ProgramNumber >> 8), byte(a.program.ProgramNumber),
		0xC1,       // reserved(2) + version(5) + current_next(1)
		0x00, 0x00, // section_number, last_section_number
		byte(a.program.PCRPID>>8) | 0xE0, byte(a.program.PCRPID),
		0xF0, 0x00, // reserved(4) + program_info_length(12) = 0
	}

	for _, sc := range a.program.Streams {
		st, err := streamTypeFor(sc)
		if err != nil {
			return nil, err
		}
		body = append(body,
			st,
			byte(sc.PID>>8)|0xE0, byte(sc.PID),
			0xF0, 0x00, // ES_info_length = 0
		)
	}

	sectionLength := len(body) + 4 // + CRC32
	section = append(section, 0x80|byte(sectionLength>>8), byte(sectionLength))
	section = append(section, body...)
	crc := computeCRC32(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))

	return a.packetize(a.program.PMTPID, section, true, nil), nil
}

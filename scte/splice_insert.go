package scte

// SpliceInsert signals a program-level splice point in the stream. Only
// program-splice mode is supported (component-level splicing is not used
// by broadcast ad-insertion workflows this package targets); only the
// command and descriptor shapes this project actually emits are
// implemented.
//
// Unlike a pure SCTE-35 *parser*, this encoder needs to carry the
// splice_time.pts_time through round-trip: it is how a converted
// SCTE-104 VANC message's splice point survives onto the wire.
type SpliceInsert struct {
	SpliceEventID              uint32
	SpliceEventCancelIndicator bool
	OutOfNetworkIndicator      bool
	SpliceImmediateFlag        bool
	// SpliceTime carries the scheduled splice PTS when SpliceImmediateFlag
	// is false. Nil PTSTime with SpliceImmediateFlag false means
	// time_specified_flag=0 (splice at the next opportunity, unscheduled).
	SpliceTime      SpliceTime
	BreakDuration   *BreakDuration
	UniqueProgramID uint32
	AvailNum        uint32
	AvailsExpected  uint32
}

func (cmd *SpliceInsert) Type() uint32 { return SpliceInsertType }

func (cmd *SpliceInsert) decode(data []byte) error {
	r := newBitReader(data)
	cmd.SpliceEventID = r.readUint32(32)
	cmd.SpliceEventCancelIndicator = r.readBit()
	r.skip(7) // reserved

	if !cmd.SpliceEventCancelIndicator {
		cmd.OutOfNetworkIndicator = r.readBit()
		r.skip(1) // program_splice_flag, always 1 for this encoder
		durationFlag := r.readBit()
		cmd.SpliceImmediateFlag = r.readBit()
		r.skip(4) // reserved

		if !cmd.SpliceImmediateFlag {
			timeSpecifiedFlag := r.readBit()
			if timeSpecifiedFlag {
				r.skip(6) // reserved
				pts := r.readUint64(33)
				cmd.SpliceTime.PTSTime = &pts
			} else {
				r.skip(7) // reserved
			}
		}

		if durationFlag {
			cmd.BreakDuration = &BreakDuration{}
			cmd.BreakDuration.AutoReturn = r.readBit()
			r.skip(6) // reserved
			cmd.BreakDuration.Duration = r.readUint64(33)
		}
	}
	cmd.UniqueProgramID = r.readUint32(16)
	cmd.AvailNum = r.readUint32(8)
	cmd.AvailsExpected = r.readUint32(8)
	return nil
}

func (cmd *SpliceInsert) encode() ([]byte, error) {
	length := cmd.commandLength()
	w := newBitWriter(length)

	w.putUint32(32, cmd.SpliceEventID)
	w.putBit(cmd.SpliceEventCancelIndicator)
	w.putUint32(7, 0x7F) // reserved

	if !cmd.SpliceEventCancelIndicator {
		w.putBit(cmd.OutOfNetworkIndicator)
		w.putBit(true) // program_splice_flag = 1
		w.putBit(cmd.BreakDuration != nil)
		w.putBit(cmd.SpliceImmediateFlag)
		w.putUint32(4, 0x0F) // reserved

		if !cmd.SpliceImmediateFlag {
			if cmd.SpliceTime.PTSTime != nil {
				w.putBit(true)
				w.putUint32(6, 0x3F) // reserved
				w.putUint64(33, *cmd.SpliceTime.PTSTime)
			} else {
				w.putBit(false)
				w.putUint32(7, 0x7F) // reserved
			}
		}

		if cmd.BreakDuration != nil {
			w.putBit(cmd.BreakDuration.AutoReturn)
			w.putUint32(6, 0x3F) // reserved
			w.putUint64(33, cmd.BreakDuration.Duration)
		}
	}
	w.putUint32(16, cmd.UniqueProgramID)
	w.putUint32(8, cmd.AvailNum)
	w.putUint32(8, cmd.AvailsExpected)

	return w.bytes(), nil
}

func (cmd *SpliceInsert) commandLength() int {
	bits := 32 + 1 + 7 // event_id + cancel + reserved

	if !cmd.SpliceEventCancelIndicator {
		bits += 1 + 1 + 1 + 1 + 4 // out_of_network + program_splice + duration_flag + immediate + reserved

		if !cmd.SpliceImmediateFlag {
			if cmd.SpliceTime.PTSTime != nil {
				bits += 1 + 6 + 33
			} else {
				bits += 1 + 7
			}
		}

		if cmd.BreakDuration != nil {
			bits += 1 + 6 + 33 // auto_return + reserved + duration
		}
	}
	bits += 16 + 8 + 8 // unique_program_id + avail_num + avails_expected
	return bits / 8
}

package scte

import "testing"

func TestSpliceNullRoundTrip(t *testing.T) {
	sis := &SpliceInfoSection{
		SAPType:       0,
		PTSAdjustment: 0,
		SpliceCommand: &SpliceNull{},
	}
	data, err := sis.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if got.SpliceCommand.Type() != SpliceNullType {
		t.Fatalf("command type = 0x%02X, want SpliceNullType", got.SpliceCommand.Type())
	}
}

func TestSpliceInsertRoundTripWithPTS(t *testing.T) {
	pts := uint64(123456789)
	sis := &SpliceInfoSection{
		PTSAdjustment: 4500,
		SpliceCommand: &SpliceInsert{
			SpliceEventID:         42,
			OutOfNetworkIndicator: true,
			SpliceTime:            SpliceTime{PTSTime: &pts},
			BreakDuration:         &BreakDuration{AutoReturn: true, Duration: 27_000_000},
			UniqueProgramID:       7,
			AvailNum:              1,
			AvailsExpected:        1,
		},
	}

	data, err := sis.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}

	if got.PTSAdjustment != 4500 {
		t.Fatalf("PTSAdjustment = %d, want 4500", got.PTSAdjustment)
	}

	insert, ok := got.SpliceCommand.(*SpliceInsert)
	if !ok {
		t.Fatalf("command type = %T, want *SpliceInsert", got.SpliceCommand)
	}
	if insert.SpliceEventID != 42 {
		t.Errorf("SpliceEventID = %d, want 42", insert.SpliceEventID)
	}
	if !insert.OutOfNetworkIndicator {
		t.Error("OutOfNetworkIndicator = false, want true")
	}
	if insert.SpliceTime.PTSTime == nil || *insert.SpliceTime.PTSTime != pts {
		t.Fatalf("SpliceTime.PTSTime = %v, want %d", insert.SpliceTime.PTSTime, pts)
	}
	if insert.BreakDuration == nil || insert.BreakDuration.Duration != 27_000_000 {
		t.Fatalf("BreakDuration = %+v", insert.BreakDuration)
	}
	if insert.UniqueProgramID != 7 {
		t.Errorf("UniqueProgramID = %d, want 7", insert.UniqueProgramID)
	}
}

func TestSpliceInsertImmediateNoTime(t *testing.T) {
	sis := &SpliceInfoSection{
		SpliceCommand: &SpliceInsert{
			SpliceEventID:       99,
			SpliceImmediateFlag: true,
		},
	}
	data, err := sis.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	insert := got.SpliceCommand.(*SpliceInsert)
	if !insert.SpliceImmediateFlag {
		t.Fatal("expected SpliceImmediateFlag to round-trip true")
	}
	if insert.SpliceTime.PTSTime != nil {
		t.Fatal("splice_immediate_flag=1 must not carry a pts_time")
	}
}

func TestTimeSignalRoundTrip(t *testing.T) {
	pts := uint64(9000000)
	sis := &SpliceInfoSection{
		SpliceCommand: &TimeSignal{SpliceTime: SpliceTime{PTSTime: &pts}},
		SpliceDescriptors: SpliceDescriptors{
			&SegmentationDescriptor{
				SegmentationEventID: 1,
				SegmentationTypeID:  SegmentationTypeProviderAdStart,
				SegmentNum:          1,
				SegmentsExpected:    1,
			},
		},
	}
	data, err := sis.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	ts, ok := got.SpliceCommand.(*TimeSignal)
	if !ok {
		t.Fatalf("command type = %T, want *TimeSignal", got.SpliceCommand)
	}
	if ts.SpliceTime.PTSTime == nil || *ts.SpliceTime.PTSTime != pts {
		t.Fatalf("PTSTime = %v, want %d", ts.SpliceTime.PTSTime, pts)
	}
	if len(got.SpliceDescriptors) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(got.SpliceDescriptors))
	}
	sd := got.SpliceDescriptors[0].(*SegmentationDescriptor)
	if sd.SegmentationTypeID != SegmentationTypeProviderAdStart {
		t.Fatalf("SegmentationTypeID = 0x%02X, want 0x%02X", sd.SegmentationTypeID, SegmentationTypeProviderAdStart)
	}
}

func TestDecodeBytesRejectsBadCRC(t *testing.T) {
	sis := &SpliceInfoSection{SpliceCommand: &SpliceNull{}}
	data, _ := sis.Encode()
	data[len(data)-1] ^= 0xFF // corrupt the CRC

	if _, err := DecodeBytes(data); err == nil {
		t.Fatal("expected CRC mismatch error")
	}
}

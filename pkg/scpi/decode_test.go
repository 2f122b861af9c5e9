package scpi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"
)

func TestDecode_ASCIIRoundTrip(t *testing.T) {
	want := []float64{1.0, -2.5, 3.14159, 0, 1e-6, 4.2e12}

	tokens := make([]string, len(want))
	for i, f := range want {
		tokens[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	payload := []byte(strings.Join(tokens, ","))

	values, err := Decode(payload, FormatASCII, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(values) != len(want) {
		t.Fatalf("got %d values, want %d", len(values), len(want))
	}
	for i, v := range values {
		f, ok := v.(Float)
		if !ok {
			t.Fatalf("value %d: got %T, want Float", i, v)
		}
		if math.Abs(float64(f)-want[i]) > 1e-12 {
			t.Errorf("value %d = %v, want %v", i, f, want[i])
		}
	}
}

func TestDecode_Binary(t *testing.T) {
	// #14 + one little-endian float32 (1.0)
	payload := []byte{'#', '1', '4', 0x00, 0x00, 0x80, 0x3f}

	values, err := Decode(payload, FormatBinaryLE, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("got %d values, want 1", len(values))
	}
	if f := values[0].(Float); float64(f) != 1.0 {
		t.Errorf("value = %v, want 1.0", f)
	}
}

func TestDecode_BinaryBigEndian(t *testing.T) {
	payload := []byte{'#', '1', '4', 0x3f, 0x80, 0x00, 0x00}

	values, err := Decode(payload, FormatBinaryBE, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("got %d values, want 1", len(values))
	}
	if f := values[0].(Float); float64(f) != 1.0 {
		t.Errorf("value = %v, want 1.0", f)
	}
}

func TestDecode_BinaryMultipleValues(t *testing.T) {
	want := []float32{1.5, -2.25, 1000.125}

	data := make([]byte, 4*len(want))
	for i, f := range want {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	payload := append([]byte(fmt.Sprintf("#%d%d", len(strconv.Itoa(len(data))), len(data))), data...)

	values, err := Decode(payload, FormatBinaryLE, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(values) != len(want) {
		t.Fatalf("got %d values, want %d", len(values), len(want))
	}
	for i, v := range values {
		if f := v.(Float); float64(f) != float64(want[i]) {
			t.Errorf("value %d = %v, want %v", i, f, want[i])
		}
	}
}

func TestDecode_BinaryIgnoresDimensions(t *testing.T) {
	payload := []byte{'#', '1', '8',
		0x00, 0x00, 0x80, 0x3f, // 1.0
		0x00, 0x00, 0x00, 0x40, // 2.0
	}

	values, err := Decode(payload, FormatBinaryLE, Dimensions{2})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	// Vector grouping applies to the ASCII path only.
	if len(values) != 2 {
		t.Fatalf("got %d values, want 2 flat floats", len(values))
	}
}

func TestDecode_BinaryMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty block", []byte{'#'}},
		{"bad length digit", []byte{'#', 'x', '4'}},
		{"zero length digit", []byte{'#', '0'}},
		{"length field truncated", []byte{'#', '4', '1'}},
		{"non-decimal byte count", []byte{'#', '2', '4', 'x', 0, 0, 0, 0}},
		{"data truncated", []byte{'#', '1', '8', 0x00, 0x00, 0x80, 0x3f}},
		{"count not multiple of four", append([]byte("#16"), 1, 2, 3, 4, 5, 6)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload, FormatBinaryLE, nil)
			if !errors.Is(err, ErrNoData) {
				t.Errorf("Decode(%q) error = %v, want ErrNoData", tt.payload, err)
			}
		})
	}
}

func TestDecode_Timestamp(t *testing.T) {
	values, err := Decode([]byte("2017-10-10T12:16:52.33136+02:00"), FormatASCII, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("got %d values, want 1", len(values))
	}

	ts, ok := values[0].(Timestamp)
	if !ok {
		t.Fatalf("got %T, want Timestamp", values[0])
	}

	got := ts.Time()
	_, offset := got.Zone()
	if offset != 2*3600 {
		t.Errorf("UTC offset = %d, want +02:00", offset)
	}
	if got.Nanosecond() != 331360000 {
		t.Errorf("sub-second = %d ns, want 331360000", got.Nanosecond())
	}
	if got.Hour() != 12 || got.Minute() != 16 || got.Second() != 52 {
		t.Errorf("time = %v, want 12:16:52", got)
	}
}

func TestDecode_QuotedTimestamp(t *testing.T) {
	values, err := Decode([]byte(`"2017-10-10T12:16:52.33136+02:00"`), FormatASCII, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := values[0].(Timestamp); !ok {
		t.Fatalf("got %T, want Timestamp", values[0])
	}
}

func TestDecode_StringFallback(t *testing.T) {
	values, err := Decode([]byte("NONE"), FormatASCII, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("got %d values, want 1", len(values))
	}
	if s, ok := values[0].(String); !ok || s != "NONE" {
		t.Errorf("got %#v, want String(\"NONE\")", values[0])
	}
}

func TestDecode_MixedTokens(t *testing.T) {
	payload := []byte(`1.5,2017-10-10T12:16:52.33136+02:00,WAVEFORM`)

	values, err := Decode(payload, FormatASCII, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("got %d values, want 3", len(values))
	}
	if _, ok := values[0].(Float); !ok {
		t.Errorf("value 0: got %T, want Float", values[0])
	}
	if _, ok := values[1].(Timestamp); !ok {
		t.Errorf("value 1: got %T, want Timestamp", values[1])
	}
	if _, ok := values[2].(String); !ok {
		t.Errorf("value 2: got %T, want String", values[2])
	}
}

func TestDecode_DimensionGrouping(t *testing.T) {
	payload := []byte("1.0,2.0,3.0,4.0,5.0")

	values, err := Decode(payload, FormatASCII, Dimensions{1, 3, 1})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("got %d values, want 3", len(values))
	}

	if f := values[0].(Float); float64(f) != 1.0 {
		t.Errorf("value 0 = %v, want 1.0", f)
	}
	vec, ok := values[1].(Vector)
	if !ok {
		t.Fatalf("value 1: got %T, want Vector", values[1])
	}
	if len(vec) != 3 || vec[0] != 2.0 || vec[1] != 3.0 || vec[2] != 4.0 {
		t.Errorf("value 1 = %v, want [2,3,4]", vec)
	}
	if f := values[2].(Float); float64(f) != 5.0 {
		t.Errorf("value 2 = %v, want 5.0", f)
	}
}

func TestDecode_DimensionGroupingZeroIsScalar(t *testing.T) {
	values, err := Decode([]byte("7.5,8.5"), FormatASCII, Dimensions{0, 1})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("got %d values, want 2", len(values))
	}
	for i, v := range values {
		if _, ok := v.(Float); !ok {
			t.Errorf("value %d: got %T, want Float", i, v)
		}
	}
}

func TestDecode_DimensionGroupingTimestampScalar(t *testing.T) {
	payload := []byte("2017-10-10T12:16:52.33136+02:00,1.0,2.0")

	values, err := Decode(payload, FormatASCII, Dimensions{1, 2})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := values[0].(Timestamp); !ok {
		t.Errorf("value 0: got %T, want Timestamp", values[0])
	}
	if _, ok := values[1].(Vector); !ok {
		t.Errorf("value 1: got %T, want Vector", values[1])
	}
}

func TestDecode_DimensionGroupingTruncated(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		dims    Dimensions
	}{
		{"missing scalar", "1.0", Dimensions{1, 1}},
		{"missing vector tail", "1.0,2.0,3.0", Dimensions{1, 3}},
		{"non-numeric vector element", "1.0,2.0,oops,4.0", Dimensions{1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload), FormatASCII, tt.dims)
			if !errors.Is(err, ErrNoData) {
				t.Errorf("Decode error = %v, want ErrNoData", err)
			}
		})
	}
}

func TestDecode_EmptyPayload(t *testing.T) {
	values, err := Decode(nil, FormatASCII, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("got %d values, want 0", len(values))
	}
}

func TestTimestamp_PrecisionVariants(t *testing.T) {
	tests := []struct {
		token  string
		wantNs int
	}{
		{"2017-10-10T12:16:52.5+02:00", 500000000},
		{"2017-10-10T12:16:52.33136+02:00", 331360000},
		{"2017-10-10T12:16:52.123456789+02:00", 123456789},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			ts, ok := parseTimestamp(tt.token)
			if !ok {
				t.Fatalf("parseTimestamp(%q) failed", tt.token)
			}
			if ts.Nanosecond() != tt.wantNs {
				t.Errorf("sub-second = %d, want %d", ts.Nanosecond(), tt.wantNs)
			}
		})
	}
}

func TestFormatKeywordRoundTrip(t *testing.T) {
	for _, f := range []Format{FormatASCII, FormatBinaryLE, FormatBinaryBE} {
		got, ok := ParseFormat(f.Keyword())
		if !ok || got != f {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", f.Keyword(), got, ok, f)
		}
	}
}

func TestDimensions_Total(t *testing.T) {
	tests := []struct {
		dims Dimensions
		want int
	}{
		{nil, 0},
		{Dimensions{1, 1}, 2},
		{Dimensions{0, 1}, 2},
		{Dimensions{1, 3, 1}, 5},
		{Dimensions{4, 4}, 8},
	}
	for _, tt := range tests {
		if got := tt.dims.Total(); got != tt.want {
			t.Errorf("%v.Total() = %d, want %d", tt.dims, got, tt.want)
		}
	}
}

// Package scpi decodes SCPI reply payloads into typed measurement values.
//
// A stripped reply payload is either comma-separated ASCII or a binary
// float32 block introduced by '#'. ASCII tokens decode to Float, Timestamp
// or String values; when the active channel dimensions are known, runs of
// consecutive float tokens are regrouped into Vector values.
package scpi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNoData indicates a reply that carried no decodable data: a malformed
// or truncated payload, or a payload shorter than the declared dimensions.
// Decode failures are reported through this sentinel, never as panics.
var ErrNoData = errors.New("no data")

// timestampLayout matches device timestamps after the offset colon has been
// removed, e.g. "2017-10-10T12:16:52.33136+0200". The fractional-seconds
// field has variable precision.
const timestampLayout = "2006-01-02T15:04:05.999999999-0700"

// Decode converts a stripped reply payload into typed values.
//
// A payload starting with '#' is decoded as a binary float32 block using
// the byte order selected by format; dimensions are ignored for binary
// blocks and the flat value sequence is returned. Any other payload is
// decoded as ASCII CSV and, if dims is non-nil, regrouped according to it.
func Decode(payload []byte, format Format, dims Dimensions) ([]Value, error) {
	if len(payload) > 0 && payload[0] == '#' {
		return decodeBinary(payload, format)
	}
	return decodeASCII(strings.TrimSpace(string(payload)), dims)
}

// decodeBinary parses a '#'-framed block: one ASCII digit L giving the
// length of the decimal byte count, L digits giving the byte count N, then
// N bytes of raw IEEE-754 float32 data.
func decodeBinary(payload []byte, format Format) ([]Value, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: binary block too short", ErrNoData)
	}

	l := int(payload[1] - '0')
	if l < 1 || l > 9 {
		return nil, fmt.Errorf("%w: invalid binary length digit %q", ErrNoData, payload[1])
	}
	if len(payload) < 2+l {
		return nil, fmt.Errorf("%w: binary length field truncated", ErrNoData)
	}

	n, err := strconv.Atoi(string(payload[2 : 2+l]))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: invalid binary byte count %q", ErrNoData, payload[2:2+l])
	}

	data := payload[2+l:]
	if len(data) < n {
		return nil, fmt.Errorf("%w: binary block truncated: want %d bytes, have %d", ErrNoData, n, len(data))
	}
	if n%4 != 0 {
		return nil, fmt.Errorf("%w: binary byte count %d is not a multiple of 4", ErrNoData, n)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if format == FormatBinaryBE {
		order = binary.BigEndian
	}

	values := make([]Value, 0, n/4)
	for i := 0; i < n; i += 4 {
		bits := order.Uint32(data[i : i+4])
		values = append(values, Float(float64(math.Float32frombits(bits))))
	}
	return values, nil
}

// decodeASCII splits a CSV payload into tokens and decodes each one.
// With dimension information present, each entry of dimension <2 consumes
// one token as a scalar and each entry of dimension >=2 consumes that many
// consecutive float tokens as a Vector.
func decodeASCII(payload string, dims Dimensions) ([]Value, error) {
	if payload == "" {
		return nil, nil
	}

	tokens := strings.Split(payload, ",")
	for i, tok := range tokens {
		tokens[i] = strings.TrimSpace(tok)
	}

	if dims == nil {
		values := make([]Value, 0, len(tokens))
		for _, tok := range tokens {
			values = append(values, decodeToken(tok))
		}
		return values, nil
	}

	values := make([]Value, 0, len(dims))
	idx := 0
	for _, dim := range dims {
		if dim < 2 {
			if idx >= len(tokens) {
				return nil, fmt.Errorf("%w: reply has %d tokens, dimensions need %d", ErrNoData, len(tokens), dims.Total())
			}
			values = append(values, decodeToken(tokens[idx]))
			idx++
			continue
		}

		if idx+dim > len(tokens) {
			return nil, fmt.Errorf("%w: reply has %d tokens, dimensions need %d", ErrNoData, len(tokens), dims.Total())
		}
		vec := make(Vector, 0, dim)
		for _, tok := range tokens[idx : idx+dim] {
			f, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: vector element %q is not a number", ErrNoData, tok)
			}
			vec = append(vec, f)
		}
		values = append(values, vec)
		idx += dim
	}
	return values, nil
}

// decodeToken decodes one ASCII token: float first, then timestamp, then
// the literal token unchanged.
func decodeToken(token string) Value {
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return Float(f)
	}
	if ts, ok := parseTimestamp(token); ok {
		return Timestamp(ts)
	}
	return String(token)
}

// parseTimestamp parses an ISO-8601 token such as
// "2017-10-10T12:16:52.33136+02:00". The final colon separates the UTC
// offset and must be removed before parsing because the layout expects an
// offset without a separator.
func parseTimestamp(token string) (time.Time, bool) {
	s := strings.ReplaceAll(token, `"`, "")
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i] + s[i+1:]
	}
	ts, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

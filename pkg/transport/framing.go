package transport

import (
	"bytes"
)

// Framing constants.
const (
	// Terminator is the line terminator for commands and replies.
	Terminator = '\n'

	// DefaultBlockSize is the default receive chunk size.
	DefaultBlockSize = 4096

	// MaxLogResponseSize is the maximum reply size to include in log
	// events. Larger replies are truncated in log events to avoid
	// excessive memory usage.
	MaxLogResponseSize = 4096
)

// Framing decides where a device reply ends. The device sends no explicit
// message-length header, so the boundary must be inferred from the traffic
// shape.
type Framing interface {
	// Done reports whether buf holds a complete reply. lastRead is the
	// number of bytes returned by the most recent socket read.
	Done(buf []byte, lastRead int) bool
}

// TerminatorFraming treats a reply as complete when the last received byte
// equals the line terminator. This is robust regardless of reply length
// and is the default strategy.
//
// Binary block replies are length-framed instead: once a `#<L><N>` header
// is visible (bare or behind an echoed command header), the reply is
// complete only after all N declared data bytes plus the trailing
// terminator arrived. Block data may contain terminator bytes, so the
// last-byte rule alone would end such a reply mid-block.
type TerminatorFraming struct {
	// Terminator overrides the line terminator. Zero means '\n'.
	Terminator byte
}

// Done reports whether the buffer holds a complete reply.
func (f TerminatorFraming) Done(buf []byte, lastRead int) bool {
	if end, ok := blockEnd(buf); ok {
		return len(buf) > end
	}
	term := f.Terminator
	if term == 0 {
		term = Terminator
	}
	return len(buf) > 0 && buf[len(buf)-1] == term
}

// blockEnd locates a binary block in buf and returns the index one past
// its last data byte. ok is false when the buffer does not open a binary
// block or when too little of the `#<L><N>` header arrived to know the
// length. Until the header is complete the buffer ends in header bytes,
// never in a terminator, so falling back to the last-byte rule is safe.
func blockEnd(buf []byte) (end int, ok bool) {
	i := 0
	if len(buf) > 0 && buf[0] == ':' {
		sp := bytes.IndexByte(buf, ' ')
		if sp < 0 {
			return 0, false
		}
		i = sp + 1
	}
	if i >= len(buf) || buf[i] != '#' {
		return 0, false
	}
	if i+1 >= len(buf) {
		return 0, false
	}

	digits := int(buf[i+1] - '0')
	if digits < 1 || digits > 9 {
		return 0, false
	}
	if i+2+digits > len(buf) {
		return 0, false
	}

	n := 0
	for _, b := range buf[i+2 : i+2+digits] {
		if b < '0' || b > '9' {
			return 0, false
		}
		n = n*10 + int(b-'0')
	}
	return i + 2 + digits + n, true
}

// BlockSizeFraming treats a read shorter than the block size as
// end-of-message. Older client generations relied on this heuristic and
// some firmware batches replies accordingly.
//
// Known limitation: a reply whose size is an exact multiple of the block
// size never terminates under this rule; the receive then ends with a
// read timeout. Prefer TerminatorFraming for new deployments.
type BlockSizeFraming struct {
	// BlockSize overrides the chunk size. Zero means DefaultBlockSize.
	BlockSize int
}

// Done reports whether the most recent read was shorter than the block size.
func (f BlockSizeFraming) Done(buf []byte, lastRead int) bool {
	bs := f.BlockSize
	if bs <= 0 {
		bs = DefaultBlockSize
	}
	return lastRead < bs
}

// StripHeader removes a single echoed command-path header token from a
// reply. Many replies are reflected with a colon-prefixed header followed
// by one space (e.g. ":NUM:VAL 1.0,2.0"); exactly one such token is
// stripped when present, leaving the bare payload or a binary block
// starting with '#'. Payloads without a header pass through unchanged.
func StripHeader(payload []byte) []byte {
	if len(payload) == 0 || payload[0] != ':' {
		return payload
	}

	sp := bytes.IndexByte(payload, ' ')
	if sp < 0 {
		return payload
	}

	for _, b := range payload[1:sp] {
		if !isHeaderByte(b) {
			return payload
		}
	}
	return payload[sp+1:]
}

// isHeaderByte reports whether b may appear in a command-path header token.
func isHeaderByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == ':' || b == '_':
		return true
	default:
		return false
	}
}

package scpi

// Format selects the wire encoding for value transfer replies.
type Format int

const (
	// FormatASCII transfers values as comma-separated text.
	FormatASCII Format = iota

	// FormatBinaryLE transfers values as little-endian float32 blocks.
	FormatBinaryLE

	// FormatBinaryBE transfers values as big-endian float32 blocks.
	FormatBinaryBE
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatASCII:
		return "ASCII"
	case FormatBinaryLE:
		return "BINARY_LE"
	case FormatBinaryBE:
		return "BINARY_BE"
	default:
		return "UNKNOWN"
	}
}

// Keyword returns the device keyword for the format selection command.
func (f Format) Keyword() string {
	switch f {
	case FormatBinaryLE:
		return "BIN_INTEL"
	case FormatBinaryBE:
		return "BIN_MOTOROLA"
	default:
		return "ASCII"
	}
}

// ParseFormat converts a device format keyword back into a Format.
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "ASCII":
		return FormatASCII, true
	case "BIN_INTEL":
		return FormatBinaryLE, true
	case "BIN_MOTOROLA":
		return FormatBinaryBE, true
	default:
		return FormatASCII, false
	}
}

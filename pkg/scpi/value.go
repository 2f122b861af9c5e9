package scpi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value is one decoded element of a device reply.
// Concrete types: Float, Timestamp, String and Vector.
type Value interface {
	isValue()
}

// Float is a scalar measurement value.
type Float float64

func (Float) isValue() {}

// String returns the value formatted with full float64 precision.
func (f Float) String() string {
	return strconv.FormatFloat(float64(f), 'g', -1, 64)
}

// Timestamp is an absolute point in time with its original UTC offset.
type Timestamp time.Time

func (Timestamp) isValue() {}

// Time returns the timestamp as a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func (t Timestamp) String() string {
	return time.Time(t).Format(time.RFC3339Nano)
}

// String is a reply token that is neither a number nor a timestamp.
type String string

func (String) isValue() {}

// Vector is a fixed-length sequence of scalar values belonging to one
// transfer channel.
type Vector []float64

func (Vector) isValue() {}

func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Dimensions holds the declared element count per transfer channel as
// reported by the dimension query. An entry of 0 or 1 denotes a scalar,
// 2 or more a vector of that length. A nil Dimensions means no dimension
// information is available and every token decodes independently.
type Dimensions []int

// Total returns the number of flat tokens the dimensions account for.
func (d Dimensions) Total() int {
	total := 0
	for _, dim := range d {
		if dim < 2 {
			total++
		} else {
			total += dim
		}
	}
	return total
}

func (d Dimensions) String() string {
	parts := make([]string, len(d))
	for i, dim := range d {
		parts[i] = strconv.Itoa(dim)
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ","))
}

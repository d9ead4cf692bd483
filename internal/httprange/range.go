// Package httprange parses single byte-range Range headers against a known object size.
package httprange

import (
	"errors"
	"fmt"
	"strings"
)

const unitPrefix = "bytes="

var (
	// ErrMalformed marks a header that is not a usable single byte range.
	// Callers ignore such headers and serve the full object.
	ErrMalformed = errors.New("malformed range")
	// ErrUnsatisfiable marks a well-formed range that does not fit the object.
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte interval.
type Range struct {
	Start int64
	End   int64
}

// Length is the number of bytes covered by the range.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange renders the Content-Range response value for an object of the given size.
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// Header renders the value sent upstream as a Range request header.
func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Parse translates a Range header value into an inclusive interval within [0, size).
//
// "bytes=a-b" and "bytes=a-" select from a; "bytes=-n" selects the last n bytes.
// The returned error wraps ErrMalformed or ErrUnsatisfiable.
func Parse(header string, size int64) (Range, error) {
	if !strings.HasPrefix(header, unitPrefix) {
		return Range{}, fmt.Errorf("%w: unit must be bytes", ErrMalformed)
	}
	set := strings.TrimSpace(header[len(unitPrefix):])
	if strings.Contains(set, ",") {
		return Range{}, fmt.Errorf("%w: multiple ranges", ErrMalformed)
	}
	startStr, endStr, ok := strings.Cut(set, "-")
	if !ok {
		return Range{}, fmt.Errorf("%w: missing separator", ErrMalformed)
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)
	if startStr == "" && endStr == "" {
		return Range{}, fmt.Errorf("%w: no bounds", ErrMalformed)
	}

	if startStr == "" {
		n, err := parsePos(endStr)
		if err != nil {
			return Range{}, err
		}
		if n == 0 || size <= 0 {
			return Range{}, fmt.Errorf("%w: empty suffix", ErrUnsatisfiable)
		}
		if n > size {
			n = size
		}
		return Range{Start: size - n, End: size - 1}, nil
	}

	start, err := parsePos(startStr)
	if err != nil {
		return Range{}, err
	}
	end := size - 1
	if endStr != "" {
		if end, err = parsePos(endStr); err != nil {
			return Range{}, err
		}
		if end < start {
			return Range{}, fmt.Errorf("%w: end before start", ErrUnsatisfiable)
		}
	}
	if start >= size || end >= size {
		return Range{}, fmt.Errorf("%w: %d-%d outside %d bytes", ErrUnsatisfiable, start, end, size)
	}
	return Range{Start: start, End: end}, nil
}

// parsePos accepts only plain decimal digits; signs and spaces are malformed.
func parsePos(s string) (int64, error) {
	if s == "" || len(s) > 18 {
		return 0, fmt.Errorf("%w: bad position %q", ErrMalformed, s)
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: bad position %q", ErrMalformed, s)
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}

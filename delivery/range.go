package delivery

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteRange is an inclusive byte span within an object of known size.
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// Length is the number of bytes the range covers.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange renders the Content-Range header value for a 206 response.
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

// ParseRange interprets a single-range Range header against an object of
// size bytes. A missing or malformed header returns (nil, nil): the request
// is served whole, per RFC 7233. Only a syntactically valid range that
// cannot be satisfied yields ErrRangeNotSatisfiable.
//
// Supported forms: bytes=start-end, bytes=start- (to end of object) and
// bytes=-suffix (last suffix bytes). Multi-range requests are not supported
// and are served whole.
func ParseRange(header string, size int64) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, nil
	}
	spec = strings.TrimSpace(spec)
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, nil
	}

	// Suffix form: bytes=-N means the final N bytes.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return nil, nil
		}
		if n <= 0 || size == 0 {
			return nil, ErrRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		return &ByteRange{Start: size - n, End: size - 1, Total: size}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, nil
	}
	if start >= size {
		return nil, ErrRangeNotSatisfiable
	}

	end := size - 1
	if endStr != "" {
		e, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return nil, nil
		}
		if e < start {
			return nil, ErrRangeNotSatisfiable
		}
		if e < end {
			end = e
		}
	}

	return &ByteRange{Start: start, End: end, Total: size}, nil
}

package web

import (
	"errors"
	"strconv"
	"strings"
)

// errInvalidRange marks a Range header that is malformed or cannot be
// satisfied against the file; both surface as 416.
var errInvalidRange = errors.New("invalid range")

// byteRange is an inclusive byte interval within a file.
type byteRange struct {
	start, end int64
}

func (r byteRange) length() int64 { return r.end - r.start + 1 }

// parseRange interprets a Range header against a file of the given size.
// Supported forms: bytes=a-b, bytes=a-, bytes=-n. The end is clamped to
// the last byte; a start at or past the end of the file, an inverted
// interval, any non-bytes unit and any garbage all fail.
func parseRange(header string, size int64) (byteRange, error) {
	if size <= 0 {
		// Nothing in an empty file satisfies any range.
		return byteRange{}, errInvalidRange
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return byteRange{}, errInvalidRange
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok || strings.Contains(endStr, "-") {
		return byteRange{}, errInvalidRange
	}

	if startStr == "" {
		// Suffix form: the last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, errInvalidRange
		}
		start := size - n
		if start < 0 {
			start = 0
		}
		return byteRange{start: start, end: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return byteRange{}, errInvalidRange
	}
	if endStr == "" {
		return byteRange{start: start, end: size - 1}, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || start > end {
		return byteRange{}, errInvalidRange
	}
	if end > size-1 {
		end = size - 1
	}
	return byteRange{start: start, end: end}, nil
}

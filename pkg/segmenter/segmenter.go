package segmenter

import (
	"errors"
	"log/slog"
)

var ErrInvalidSize = errors.New("segment size must be positive")

// Segmenter splits an encoded message body into parts of at most Size bytes.
type Segmenter interface {
	Split(content []byte) ([][]byte, error)
}

// ByteSegmenter cuts on byte boundaries. Used for 7 bit and 8 bit codings.
type ByteSegmenter struct {
	Size int
}

// UCS2Segmenter cuts on 2 byte code unit boundaries and never splits a surrogate pair.
type UCS2Segmenter struct {
	Size int
}

// ForDataCoding picks the segmenter matching the data_coding of the content.
func ForDataCoding(dataCoding uint8, size int) Segmenter {
	if dataCoding == 8 {
		return &UCS2Segmenter{Size: size}
	}
	return &ByteSegmenter{Size: size}
}

func (s *ByteSegmenter) Split(content []byte) ([][]byte, error) {
	if s.Size <= 0 {
		return nil, ErrInvalidSize
	}
	if len(content) == 0 {
		return [][]byte{{}}, nil
	}

	var parts [][]byte
	for start := 0; start < len(content); start += s.Size {
		end := start + s.Size
		if end > len(content) {
			end = len(content)
		}
		parts = append(parts, content[start:end])
	}
	slog.Debug("Segmented content", slog.Int("segments", len(parts)), slog.Int("length", len(content)))
	return parts, nil
}

func (s *UCS2Segmenter) Split(content []byte) ([][]byte, error) {
	size := s.Size - s.Size%2
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if len(content) == 0 {
		return [][]byte{{}}, nil
	}

	var parts [][]byte
	start := 0
	for start < len(content) {
		end := start + size
		if end >= len(content) {
			parts = append(parts, content[start:])
			break
		}
		// high surrogate as the last unit: move it to the next part
		if end >= 2 && isHighSurrogate(content[end-2]) && end-2 > start {
			end -= 2
		}
		parts = append(parts, content[start:end])
		start = end
	}
	slog.Debug("Segmented UCS2 content", slog.Int("segments", len(parts)), slog.Int("length", len(content)))
	return parts, nil
}

func isHighSurrogate(hi byte) bool {
	return hi >= 0xD8 && hi <= 0xDB
}

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Encode writes the header line followed by v as JSON.
func Encode(v any) ([]byte, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode persisted data: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(Header{Date: time.Now(), Version: Release}.String())
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes(), nil
}

// Decode validates the header before unmarshalling the body into v.
func Decode(data []byte, v any) (Header, error) {
	line, body, found := bytes.Cut(data, []byte("\n"))
	if !found {
		return Header{}, fmt.Errorf("%w: missing body", ErrInvalidHeader)
	}
	h, err := ParseHeader(string(line))
	if err != nil {
		return Header{}, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return h, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return h, nil
}

package smppclient

import (
	"fmt"

	"github.com/linxGnu/gosmpp/data"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Data coding values with a text encoding.
const (
	CodingSMSCDefault uint8 = 0
	CodingIA5         uint8 = 1
	CodingBinary      uint8 = 2
	CodingLatin1      uint8 = 3
	CodingBinary2     uint8 = 4
	CodingCyrillic    uint8 = 6
	CodingHebrew      uint8 = 7
	CodingUCS2        uint8 = 8
)

func textEncoding(dc uint8) encoding.Encoding {
	switch dc {
	case CodingLatin1:
		return charmap.ISO8859_1
	case CodingCyrillic:
		return charmap.ISO8859_5
	case CodingHebrew:
		return charmap.ISO8859_8
	case CodingUCS2:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	}
	return nil
}

// EncodeText encodes text for the given data_coding. Codings without a
// character set (binary, IA5 and the reserved ones) pass the bytes through.
func EncodeText(dc uint8, text string) ([]byte, error) {
	if dc == CodingSMSCDefault {
		b, err := data.GSM7BIT.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("gsm7 encode: %w", err)
		}
		return b, nil
	}
	enc := textEncoding(dc)
	if enc == nil {
		return []byte(text), nil
	}
	b, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode data_coding %d: %w", dc, err)
	}
	return b, nil
}

// DecodeText is the inverse of EncodeText.
func DecodeText(dc uint8, b []byte) (string, error) {
	if dc == CodingSMSCDefault {
		s, err := data.GSM7BIT.Decode(b)
		if err != nil {
			return "", fmt.Errorf("gsm7 decode: %w", err)
		}
		return s, nil
	}
	enc := textEncoding(dc)
	if enc == nil {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode data_coding %d: %w", dc, err)
	}
	return string(out), nil
}

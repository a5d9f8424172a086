package smpphelper

// Concatenation information element (8-bit reference).
const (
	udhIEConcat8bit  = 0x00
	udhIEConcat16bit = 0x08
)

// ConcatInfo describes one part of a concatenated message.
type ConcatInfo struct {
	Reference uint16
	Total     uint8
	Sequence  uint8
	// HeaderLen is the UDH length in bytes including the UDHL octet.
	HeaderLen int
}

// EncodeConcatUDH creates the 6 byte UDH for one part of a multipart message.
func EncodeConcatUDH(reference uint8, total, sequence uint8) []byte {
	return []byte{0x05, udhIEConcat8bit, 0x03, reference, total, sequence}
}

// ParseConcatUDH reads the concatenation element from the UDH prefix of payload.
func ParseConcatUDH(payload []byte) (ConcatInfo, bool) {
	if len(payload) < 1 {
		return ConcatInfo{}, false
	}
	udhl := int(payload[0])
	if udhl == 0 || len(payload) < udhl+1 {
		return ConcatInfo{}, false
	}
	ies := payload[1 : udhl+1]
	for i := 0; i+1 < len(ies); {
		iei, iel := ies[i], int(ies[i+1])
		data := ies[i+2:]
		if len(data) < iel {
			return ConcatInfo{}, false
		}
		switch {
		case iei == udhIEConcat8bit && iel == 3:
			return ConcatInfo{Reference: uint16(data[0]), Total: data[1], Sequence: data[2], HeaderLen: udhl + 1}, true
		case iei == udhIEConcat16bit && iel == 4:
			ref := uint16(data[0])<<8 | uint16(data[1])
			return ConcatInfo{Reference: ref, Total: data[2], Sequence: data[3], HeaderLen: udhl + 1}, true
		}
		i += 2 + iel
	}
	return ConcatInfo{}, false
}

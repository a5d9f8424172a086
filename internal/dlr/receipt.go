// Package dlr correlates submitted messages with the receipts an SMSC sends
// back and throws those receipts to the original submitter.
package dlr

import (
	"fmt"
	"math/big"
	"strings"
)

// SMPP message_state values.
const (
	StateEnroute       uint8 = 1
	StateDelivered     uint8 = 2
	StateExpired       uint8 = 3
	StateDeleted       uint8 = 4
	StateUndeliverable uint8 = 5
	StateAccepted      uint8 = 6
	StateUnknown       uint8 = 7
	StateRejected      uint8 = 8
)

var stateNames = map[uint8]string{
	StateAccepted:      "ACCEPTD",
	StateUndeliverable: "UNDELIV",
	StateRejected:      "REJECTD",
	StateDelivered:     "DELIVRD",
	StateExpired:       "EXPIRED",
	StateDeleted:       "DELETED",
	StateUnknown:       "UNKNOWN",
}

// StatDelivered is how a DELIVRD receipt is reported in Receipt.Stat.
const StatDelivered = "DELIVRED"

// StateName maps a message_state TLV to its receipt token, UNKNOWN when unmapped.
func StateName(state uint8) string {
	if n, ok := stateNames[state]; ok {
		return n
	}
	return "UNKNOWN"
}

// Receipt is a parsed delivery receipt. Fields absent from the receipt are "ND".
type Receipt struct {
	ID         string `json:"id"`
	Sub        string `json:"sub"`
	Dlvrd      string `json:"dlvrd"`
	SubmitDate string `json:"sdate"`
	DoneDate   string `json:"ddate"`
	Stat       string `json:"stat"`
	RawStat    string `json:"raw_stat"`
	Err        string `json:"err"`
	Text       string `json:"text"`
}

// SetStat stores the receipt token and its reported form.
func (r *Receipt) SetStat(token string) {
	r.RawStat = token
	if token == "DELIVRD" {
		r.Stat = StatDelivered
		return
	}
	r.Stat = token
}

// Status is the token thrown to submitters (DELIVRD, UNDELIV, ...).
func (r *Receipt) Status() string {
	if r.RawStat != "" {
		return r.RawStat
	}
	return r.Stat
}

// StateFor maps a receipt status (or an ESME_* submit status) to the
// message_state, the stat token and the err code put in a generated receipt.
func StateFor(status string) (state uint8, stat string, errCode int, err error) {
	if strings.HasPrefix(status, "ESME_") {
		if status == "ESME_ROK" {
			return StateAccepted, "ACCEPTD", 0, nil
		}
		return StateUndeliverable, "UNDELIV", 10, nil
	}
	switch status {
	case "UNDELIV":
		return StateUndeliverable, status, 10, nil
	case "REJECTD":
		return StateRejected, status, 20, nil
	case "DELIVRD", StatDelivered:
		return StateDelivered, "DELIVRD", 0, nil
	case "EXPIRED":
		return StateExpired, status, 30, nil
	case "DELETED":
		return StateDeleted, status, 40, nil
	case "ACCEPTD":
		return StateAccepted, status, 0, nil
	case "UNKNOWN":
		return StateUnknown, status, 50, nil
	}
	return 0, "", 0, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
}

// Message id bases, per connector dlr_msg_id_bases.
const (
	BasesNone     = 0
	BasesDecToHex = 1
	BasesHexToDec = 2
)

// CodeMessageID normalizes a receipt id so it matches the id recorded from
// the submit_sm_resp. Ids that cannot be converted fall back to the plain form.
func CodeMessageID(id string, bases int) string {
	plain := NormalizeMessageID(id)
	switch bases {
	case BasesDecToHex:
		n, ok := new(big.Int).SetString(id, 10)
		if !ok {
			return plain
		}
		return NormalizeMessageID(strings.ToUpper(n.Text(16)))
	case BasesHexToDec:
		n, ok := new(big.Int).SetString(id, 16)
		if !ok {
			return plain
		}
		return n.Text(10)
	}
	return plain
}

// NormalizeMessageID upper-cases id and strips leading zeros.
func NormalizeMessageID(id string) string {
	return strings.TrimLeft(strings.ToUpper(id), "0")
}

// Registered delivery receipt requests, the low bits of registered_delivery.
const (
	ReceiptNone      = 0
	ReceiptRequested = 1
	ReceiptOnFailure = 2
)

// ReceiptRequest extracts the receipt bits from registered_delivery.
func ReceiptRequest(registeredDelivery uint8) int { return int(registeredDelivery & 0x03) }

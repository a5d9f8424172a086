package smppclient

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/thrillee/aegisrouter/internal/dlr"
	"github.com/thrillee/aegisrouter/pkg/segmenter"
	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

const (
	// MaxShortMessageLength is the largest short_message sent as a single submit_sm.
	MaxShortMessageLength = 254
	udhHeaderLength       = 6

	SplitSAR = "sar"
	SplitUDH = "udh"
)

var ErrNoDestination = errors.New("destination address is required")

// SubmitRequest carries what a caller wants in a submit_sm. Nil fields fall
// back to the connector configuration.
type SubmitRequest struct {
	SourceAddr      *string
	DestinationAddr string
	ShortMessage    []byte

	ServiceType          *string
	SourceAddrTON        *uint8
	SourceAddrNPI        *uint8
	DestAddrTON          *uint8
	DestAddrNPI          *uint8
	EsmClass             *uint8
	ProtocolID           *uint8
	PriorityFlag         *uint8
	ScheduleDeliveryTime *string
	ValidityPeriod       *string
	RegisteredDelivery   *uint8
	ReplaceIfPresentFlag *uint8
	DataCoding           *uint8
	SmDefaultMsgID       *uint8
}

// OperationFactory builds submit_sm PDUs for one connector and recognizes
// delivery receipts among incoming deliver_sm/data_sm.
type OperationFactory struct {
	config              *ClientConfig
	longContentMaxParts int
	longContentSplit    string
	logger              *slog.Logger

	mu      sync.Mutex
	lastRef uint16
}

// NewOperationFactory returns a factory using cfg defaults. maxParts <= 0 means no truncation.
func NewOperationFactory(cfg *ClientConfig, maxParts int, split string, logger *slog.Logger) *OperationFactory {
	if split != SplitUDH {
		split = SplitSAR
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationFactory{config: cfg, longContentMaxParts: maxParts, longContentSplit: split, logger: logger}
}

// claimRef returns the next long message reference, wrapping after 65535 and never 0.
func (f *OperationFactory) claimRef() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRef++
	if f.lastRef == 0 {
		f.lastRef = 1
	}
	return f.lastRef
}

func pick[T any](req *T, def *T) *T {
	if req != nil {
		v := *req
		return &v
	}
	if def != nil {
		v := *def
		return &v
	}
	return nil
}

// applyDefaults builds a single submit_sm from req, completed by the configuration.
func (f *OperationFactory) applyDefaults(req SubmitRequest) *smpphelper.PDU {
	c := f.config
	return &smpphelper.PDU{
		CommandID:            smpphelper.CommandSubmitSm,
		ServiceType:          pick(req.ServiceType, c.ServiceType),
		SourceAddrTON:        pick(req.SourceAddrTON, &c.SourceAddrTON),
		SourceAddrNPI:        pick(req.SourceAddrNPI, &c.SourceAddrNPI),
		SourceAddr:           derefOr(pick(req.SourceAddr, c.SourceAddr), ""),
		DestAddrTON:          pick(req.DestAddrTON, &c.DestAddrTON),
		DestAddrNPI:          pick(req.DestAddrNPI, &c.DestAddrNPI),
		DestinationAddr:      req.DestinationAddr,
		EsmClass:             pick(req.EsmClass, &c.EsmClass),
		ProtocolID:           pick(req.ProtocolID, c.ProtocolID),
		PriorityFlag:         pick(req.PriorityFlag, &c.PriorityFlag),
		ScheduleDeliveryTime: pick(req.ScheduleDeliveryTime, c.ScheduleDeliveryTime),
		ValidityPeriod:       pick(req.ValidityPeriod, c.ValidityPeriod),
		RegisteredDelivery:   pick(req.RegisteredDelivery, &c.RegisteredDelivery),
		ReplaceIfPresentFlag: pick(req.ReplaceIfPresentFlag, &c.ReplaceIfPresentFlag),
		DataCoding:           pick(req.DataCoding, &c.DataCoding),
		SmDefaultMsgID:       pick(req.SmDefaultMsgID, &c.SmDefaultMsgID),
	}
}

func derefOr[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}

// BuildSubmit returns the submit_sm for req. Content longer than
// MaxShortMessageLength is split into segments chained through Next; the
// first segment is returned.
func (f *OperationFactory) BuildSubmit(req SubmitRequest) (*smpphelper.PDU, error) {
	if req.DestinationAddr == "" {
		return nil, ErrNoDestination
	}
	if len(req.ShortMessage) <= MaxShortMessageLength {
		p := f.applyDefaults(req)
		p.ShortMessage = append([]byte(nil), req.ShortMessage...)
		return p, nil
	}

	dc := derefOr(pick(req.DataCoding, &f.config.DataCoding), 0)
	size := MaxShortMessageLength
	if f.longContentSplit == SplitUDH {
		size -= udhHeaderLength
	}
	parts, err := segmenter.ForDataCoding(dc, size).Split(req.ShortMessage)
	if err != nil {
		return nil, fmt.Errorf("split content: %w", err)
	}
	if len(parts) > 255 {
		return nil, fmt.Errorf("content needs %d segments, at most 255 allowed", len(parts))
	}
	if f.longContentMaxParts > 0 && len(parts) > f.longContentMaxParts {
		f.logger.Warn("Long content truncated",
			slog.String("cid", f.config.ID),
			slog.Int("segments", len(parts)),
			slog.Int("max_parts", f.longContentMaxParts))
		parts = parts[:f.longContentMaxParts]
	}

	ref := f.claimRef()
	total := uint8(len(parts))
	var first, prev *smpphelper.PDU
	for i, part := range parts {
		seq := uint8(i + 1)
		p := f.applyDefaults(req)
		switch f.longContentSplit {
		case SplitUDH:
			p.EsmClass = smpphelper.Ptr(smpphelper.EsmClassUDHIndicator)
			more := uint8(0)
			if seq < total {
				more = 1
			}
			p.MoreMessagesToSend = smpphelper.Ptr(more)
			udh := smpphelper.EncodeConcatUDH(uint8(ref), total, seq)
			p.ShortMessage = append(udh, part...)
		default:
			p.ShortMessage = append([]byte(nil), part...)
			p.SarMsgRefNum = smpphelper.Ptr(ref)
			p.SarTotalSegments = smpphelper.Ptr(total)
			p.SarSegmentSeqnum = smpphelper.Ptr(seq)
		}
		if first == nil {
			first = p
		} else {
			prev.Next = p
		}
		prev = p
	}
	return first, nil
}

// ============================================================================
// Delivery receipts
// ============================================================================

var receiptPatterns = []struct {
	field string
	re    *regexp.Regexp
}{
	{"id", regexp.MustCompile(`id:([\dA-Za-z_-]+)`)},
	{"sub", regexp.MustCompile(`sub:(\d{3})`)},
	{"dlvrd", regexp.MustCompile(`dlvrd:(\d{3})`)},
	{"sdate", regexp.MustCompile(`submit date:(\d+)`)},
	{"ddate", regexp.MustCompile(`done date:(\d+)`)},
	{"stat", regexp.MustCompile(`stat:(\w{7})`)},
	{"err", regexp.MustCompile(`err:(\w{3})`)},
	{"text", regexp.MustCompile(`text:(.*)`)},
}

// IsDeliveryReceipt returns the receipt carried by a deliver_sm or data_sm,
// nil when p is not a receipt. receipted_message_id and message_state take
// precedence over the id and stat found in the content.
func (f *OperationFactory) IsDeliveryReceipt(p *smpphelper.PDU) *dlr.Receipt {
	return ParseReceipt(p)
}

// ParseReceipt is IsDeliveryReceipt without a factory.
func ParseReceipt(p *smpphelper.PDU) *dlr.Receipt {
	if p == nil || (p.CommandID != smpphelper.CommandDeliverSm && p.CommandID != smpphelper.CommandDataSm) {
		return nil
	}
	r := &dlr.Receipt{Sub: "ND", Dlvrd: "ND", SubmitDate: "ND", DoneDate: "ND", Err: "ND"}
	hasID, hasStat := false, false
	if p.ReceiptedMessageID != nil && p.MessageState != nil {
		r.ID = *p.ReceiptedMessageID
		r.SetStat(dlr.StateName(*p.MessageState))
		hasID, hasStat = true, true
	}

	content := string(p.Content())
	for _, pat := range receiptPatterns {
		m := pat.re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		switch pat.field {
		case "id":
			if !hasID {
				r.ID, hasID = m[1], true
			}
		case "stat":
			if !hasStat {
				r.SetStat(m[1])
				hasStat = true
			}
		case "sub":
			r.Sub = m[1]
		case "dlvrd":
			r.Dlvrd = m[1]
		case "sdate":
			r.SubmitDate = m[1]
		case "ddate":
			r.DoneDate = m[1]
		case "err":
			r.Err = m[1]
		case "text":
			r.Text = m[1]
		}
	}
	if !hasID || !hasStat {
		return nil
	}
	return r
}

// ReceiptParams describes a receipt to generate for a submitter.
type ReceiptParams struct {
	// Command is deliver_sm or data_sm.
	Command         string
	MessageID       string
	SourceAddr      string
	DestinationAddr string
	Status          string
	SubmitDate      time.Time
	DoneDate        time.Time
	SourceAddrTON   uint8
	SourceAddrNPI   uint8
	DestAddrTON     uint8
	DestAddrNPI     uint8
}

// BuildReceipt builds the deliver_sm or data_sm receipt for a message that
// was submitted from SourceAddr to DestinationAddr. Addresses are swapped.
func BuildReceipt(rp ReceiptParams) (*smpphelper.PDU, error) {
	state, stat, errCode, err := dlr.StateFor(rp.Status)
	if err != nil {
		return nil, err
	}
	if rp.DoneDate.IsZero() {
		rp.DoneDate = time.Now()
	}
	p := &smpphelper.PDU{
		CommandID:          smpphelper.CommandDeliverSm,
		SourceAddr:         rp.DestinationAddr,
		DestinationAddr:    rp.SourceAddr,
		SourceAddrTON:      smpphelper.Ptr(rp.DestAddrTON),
		SourceAddrNPI:      smpphelper.Ptr(rp.DestAddrNPI),
		DestAddrTON:        smpphelper.Ptr(rp.SourceAddrTON),
		DestAddrNPI:        smpphelper.Ptr(rp.SourceAddrNPI),
		EsmClass:           smpphelper.Ptr(smpphelper.EsmClassSMSCReceipt),
		ReceiptedMessageID: smpphelper.Ptr(rp.MessageID),
		MessageState:       smpphelper.Ptr(state),
	}
	switch rp.Command {
	case smpphelper.CommandDataSm:
		p.CommandID = smpphelper.CommandDataSm
	case smpphelper.CommandDeliverSm, "":
		p.ShortMessage = []byte(fmt.Sprintf("id:%s submit date:%s done date:%s stat:%s err:%03d",
			rp.MessageID,
			rp.SubmitDate.Format("200601021504"),
			rp.DoneDate.Format("200601021504"),
			stat,
			errCode))
	default:
		return nil, fmt.Errorf("unsupported receipt command %q", rp.Command)
	}
	return p, nil
}

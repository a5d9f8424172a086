package smpphelper

// Command names carried by PDU.CommandID.
const (
	CommandSubmitSm  = "submit_sm"
	CommandDeliverSm = "deliver_sm"
	CommandDataSm    = "data_sm"
)

// ESM class bits used by the gateway.
const (
	EsmClassDefault       uint8 = 0x00
	EsmClassStoreForward  uint8 = 0x03
	EsmClassSMSCReceipt   uint8 = 0x04
	EsmClassUDHIndicator  uint8 = 0x40
	EsmClassMessageTypeMk uint8 = 0x3C
)

// Registered delivery values.
const (
	RegisteredDeliveryNone          uint8 = 0x00
	RegisteredDeliverySuccessFailed uint8 = 0x01
	RegisteredDeliveryFailure       uint8 = 0x02
)

// PDU is a decoded submit_sm, deliver_sm or data_sm reduced to its parameters.
// Optional parameters are pointers: nil means the parameter is absent, never zero.
type PDU struct {
	CommandID      string `json:"command_id"`
	SequenceNumber int32  `json:"sequence_number,omitempty"`

	ServiceType          *string `json:"service_type,omitempty"`
	SourceAddrTON        *uint8  `json:"source_addr_ton,omitempty"`
	SourceAddrNPI        *uint8  `json:"source_addr_npi,omitempty"`
	SourceAddr           string  `json:"source_addr"`
	DestAddrTON          *uint8  `json:"dest_addr_ton,omitempty"`
	DestAddrNPI          *uint8  `json:"dest_addr_npi,omitempty"`
	DestinationAddr      string  `json:"destination_addr"`
	EsmClass             *uint8  `json:"esm_class,omitempty"`
	ProtocolID           *uint8  `json:"protocol_id,omitempty"`
	PriorityFlag         *uint8  `json:"priority_flag,omitempty"`
	ScheduleDeliveryTime *string `json:"schedule_delivery_time,omitempty"`
	ValidityPeriod       *string `json:"validity_period,omitempty"`
	RegisteredDelivery   *uint8  `json:"registered_delivery,omitempty"`
	ReplaceIfPresentFlag *uint8  `json:"replace_if_present_flag,omitempty"`
	DataCoding           *uint8  `json:"data_coding,omitempty"`
	SmDefaultMsgID       *uint8  `json:"sm_default_msg_id,omitempty"`
	ShortMessage         []byte  `json:"short_message"`

	// Optional TLVs.
	MessagePayload     []byte  `json:"message_payload,omitempty"`
	SarMsgRefNum       *uint16 `json:"sar_msg_ref_num,omitempty"`
	SarTotalSegments   *uint8  `json:"sar_total_segments,omitempty"`
	SarSegmentSeqnum   *uint8  `json:"sar_segment_seqnum,omitempty"`
	MoreMessagesToSend *uint8  `json:"more_messages_to_send,omitempty"`
	ReceiptedMessageID *string `json:"receipted_message_id,omitempty"`
	MessageState       *uint8  `json:"message_state,omitempty"`

	// Next chains the following segment of a long message.
	Next *PDU `json:"next,omitempty"`
}

// Content returns message_payload when set, short_message otherwise.
func (p *PDU) Content() []byte {
	if len(p.MessagePayload) > 0 {
		return p.MessagePayload
	}
	return p.ShortMessage
}

// Segments walks the Next chain starting at p.
func (p *PDU) Segments() []*PDU {
	var out []*PDU
	for s := p; s != nil; s = s.Next {
		out = append(out, s)
	}
	return out
}

// HasUDH reports whether esm_class carries the UDH indicator.
func (p *PDU) HasUDH() bool {
	return p.EsmClass != nil && *p.EsmClass&EsmClassUDHIndicator != 0
}

// IsSegment reports whether p is one part of a concatenated message, either by SAR TLVs or by UDH.
func (p *PDU) IsSegment() bool {
	if p.SarMsgRefNum != nil && p.SarTotalSegments != nil && p.SarSegmentSeqnum != nil {
		return true
	}
	if p.HasUDH() {
		_, ok := ParseConcatUDH(p.ShortMessage)
		return ok
	}
	return false
}

// Clone returns a deep copy of p, including its chain.
func (p *PDU) Clone() *PDU {
	if p == nil {
		return nil
	}
	cp := *p
	cp.ShortMessage = append([]byte(nil), p.ShortMessage...)
	if p.MessagePayload != nil {
		cp.MessagePayload = append([]byte(nil), p.MessagePayload...)
	}
	cp.ServiceType = clonePtr(p.ServiceType)
	cp.SourceAddrTON = clonePtr(p.SourceAddrTON)
	cp.SourceAddrNPI = clonePtr(p.SourceAddrNPI)
	cp.DestAddrTON = clonePtr(p.DestAddrTON)
	cp.DestAddrNPI = clonePtr(p.DestAddrNPI)
	cp.EsmClass = clonePtr(p.EsmClass)
	cp.ProtocolID = clonePtr(p.ProtocolID)
	cp.PriorityFlag = clonePtr(p.PriorityFlag)
	cp.ScheduleDeliveryTime = clonePtr(p.ScheduleDeliveryTime)
	cp.ValidityPeriod = clonePtr(p.ValidityPeriod)
	cp.RegisteredDelivery = clonePtr(p.RegisteredDelivery)
	cp.ReplaceIfPresentFlag = clonePtr(p.ReplaceIfPresentFlag)
	cp.DataCoding = clonePtr(p.DataCoding)
	cp.SmDefaultMsgID = clonePtr(p.SmDefaultMsgID)
	cp.SarMsgRefNum = clonePtr(p.SarMsgRefNum)
	cp.SarTotalSegments = clonePtr(p.SarTotalSegments)
	cp.SarSegmentSeqnum = clonePtr(p.SarSegmentSeqnum)
	cp.MoreMessagesToSend = clonePtr(p.MoreMessagesToSend)
	cp.ReceiptedMessageID = clonePtr(p.ReceiptedMessageID)
	cp.MessageState = clonePtr(p.MessageState)
	cp.Next = p.Next.Clone()
	return &cp
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

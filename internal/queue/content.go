package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

// ContentVersion is the schema version written into every content.
const ContentVersion = 1

const contentTypeJSON = "application/json"

// Source connectors of a submit.
const (
	SourceHTTPAPI  = "httpapi"
	SourceSMPPSAPI = "smppsapi"
)

// Deliver route types.
const (
	RouteTypeSimple   = "simple"
	RouteTypeFailover = "failover"
)

var (
	ErrInvalidContent = errors.New("invalid queue content")
	ErrVersion        = errors.New("unsupported content version")
)

// DLR message statuses forwarded to throwers, besides the ESME_* submit_sm_resp statuses.
var dlrFinalStatuses = []string{"DELIVRD", "EXPIRED", "DELETED", "UNDELIV", "ACCEPTD", "UNKNOWN", "REJECTD"}

// Content is implemented by every queue payload.
type Content interface {
	ID() string
	Validate() error
}

// DLRRequest carries what the submitter asked for regarding receipts.
type DLRRequest struct {
	Level  int    `json:"level"` // 1: SMSC ack, 2: terminal receipt, 3: both
	URL    string `json:"url,omitempty"`
	Method string `json:"method,omitempty"`
}

// SubmitSmContent is published on submit.sm.<cid> for a connector to send.
type SubmitSmContent struct {
	Version         int                   `json:"v"`
	MessageID       string                `json:"msgid"`
	UID             string                `json:"uid"`
	ConnectorID     string                `json:"cid"`
	SourceConnector string                `json:"source_connector"`
	Priority        uint8                 `json:"priority"`
	Expiration      *time.Time            `json:"expiration,omitempty"`
	PDU             *smpphelper.PDU       `json:"pdu"`
	Bill            *routing.SubmitSmBill `json:"bill,omitempty"`
	DLR             *DLRRequest           `json:"dlr,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

func (c *SubmitSmContent) ID() string { return c.MessageID }

func (c *SubmitSmContent) Validate() error {
	if err := checkHeader(c.Version, c.MessageID); err != nil {
		return err
	}
	if c.PDU == nil {
		return fmt.Errorf("%w: submit_sm %s has no pdu", ErrInvalidContent, c.MessageID)
	}
	if c.Priority > 3 {
		return fmt.Errorf("%w: priority %d out of 0-3", ErrInvalidContent, c.Priority)
	}
	if c.SourceConnector != SourceHTTPAPI && c.SourceConnector != SourceSMPPSAPI {
		return fmt.Errorf("%w: source connector %q", ErrInvalidContent, c.SourceConnector)
	}
	if c.DLR != nil {
		if c.DLR.Level < 1 || c.DLR.Level > 3 {
			return fmt.Errorf("%w: dlr level %d", ErrInvalidContent, c.DLR.Level)
		}
		if c.DLR.Method != "" && c.DLR.Method != "GET" && c.DLR.Method != "POST" {
			return fmt.Errorf("%w: dlr method %q", ErrInvalidContent, c.DLR.Method)
		}
	}
	return nil
}

// Expired reports whether the content should no longer be sent at now.
func (c *SubmitSmContent) Expired(now time.Time) bool {
	return c.Expiration != nil && now.After(*c.Expiration)
}

// SubmitSmRespContent reports the SMSC answer to a submit.
type SubmitSmRespContent struct {
	Version       int    `json:"v"`
	MessageID     string `json:"msgid"`
	ConnectorID   string `json:"cid"`
	Status        string `json:"status"`
	SMSCMessageID string `json:"smsc_msgid,omitempty"`
}

func (c *SubmitSmRespContent) ID() string { return c.MessageID }

func (c *SubmitSmRespContent) Validate() error {
	if err := checkHeader(c.Version, c.MessageID); err != nil {
		return err
	}
	if c.Status == "" {
		return fmt.Errorf("%w: submit_sm_resp %s has no status", ErrInvalidContent, c.MessageID)
	}
	return nil
}

// DeliverSmContent is an MO received by a connector, published on deliver.sm.<cid>.
type DeliverSmContent struct {
	Version            int             `json:"v"`
	MessageID          string          `json:"msgid"`
	ConnectorID        string          `json:"cid"`
	PDU                *smpphelper.PDU `json:"pdu"`
	Concatenated       bool            `json:"concatenated"`
	WillBeConcatenated bool            `json:"will_be_concatenated"`
	ReceivedAt         time.Time       `json:"received_at"`
}

func (c *DeliverSmContent) ID() string { return c.MessageID }

func (c *DeliverSmContent) Validate() error {
	if err := checkHeader(c.Version, c.MessageID); err != nil {
		return err
	}
	if c.PDU == nil {
		return fmt.Errorf("%w: deliver_sm %s has no pdu", ErrInvalidContent, c.MessageID)
	}
	if c.ConnectorID == "" {
		return fmt.Errorf("%w: deliver_sm %s has no connector", ErrInvalidContent, c.MessageID)
	}
	return nil
}

// RoutedDeliverSmContent is an MO resolved by the router, published on deliver_sm_thrower.<type>.
type RoutedDeliverSmContent struct {
	Version               int                     `json:"v"`
	MessageID             string                  `json:"msgid"`
	SourceConnectorID     string                  `json:"scid"`
	RouteType             string                  `json:"route_type"`
	DestinationConnectors []routing.ConnectorSpec `json:"dcs"`
	TryCount              int                     `json:"trycount"`
	PDU                   *smpphelper.PDU         `json:"pdu"`
}

func (c *RoutedDeliverSmContent) ID() string { return c.MessageID }

func (c *RoutedDeliverSmContent) Validate() error {
	if err := checkHeader(c.Version, c.MessageID); err != nil {
		return err
	}
	if c.RouteType != RouteTypeSimple && c.RouteType != RouteTypeFailover {
		return fmt.Errorf("%w: route type %q", ErrInvalidContent, c.RouteType)
	}
	if len(c.DestinationConnectors) == 0 {
		return fmt.Errorf("%w: routed deliver_sm %s has no destination", ErrInvalidContent, c.MessageID)
	}
	if c.PDU == nil {
		return fmt.Errorf("%w: routed deliver_sm %s has no pdu", ErrInvalidContent, c.MessageID)
	}
	return nil
}

// SubmitSmRespBillContent asks the router to charge a user once the SMSC acked.
type SubmitSmRespBillContent struct {
	Version int             `json:"v"`
	BID     string          `json:"bid"`
	UID     string          `json:"uid"`
	Amount  decimal.Decimal `json:"amount"`
}

func (c *SubmitSmRespBillContent) ID() string { return c.BID }

func (c *SubmitSmRespBillContent) Validate() error {
	if err := checkHeader(c.Version, c.BID); err != nil {
		return err
	}
	if c.UID == "" {
		return fmt.Errorf("%w: bill %s has no user", ErrInvalidContent, c.BID)
	}
	if c.Amount.IsNegative() {
		return fmt.Errorf("%w: bill %s amount %s is negative", ErrInvalidContent, c.BID, c.Amount)
	}
	return nil
}

// DLRContent is a receipt thrown back to the submitter, on dlr_thrower.<type>.
type DLRContent struct {
	Version       int       `json:"v"`
	MessageID     string    `json:"msgid"`
	MessageStatus string    `json:"message_status"`
	Level         int       `json:"level"`
	URL           string    `json:"url,omitempty"`
	Method        string    `json:"method,omitempty"`
	ConnectorID   string    `json:"connector"`
	SMSCMessageID string    `json:"id_smsc,omitempty"`
	Sub           string    `json:"sub,omitempty"`
	Dlvrd         string    `json:"dlvrd,omitempty"`
	SubDate       string    `json:"subdate,omitempty"`
	DoneDate      string    `json:"donedate,omitempty"`
	Err           string    `json:"err,omitempty"`
	Text          string    `json:"text,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	// Set when the receipt goes back to an SMPP server bind.
	SystemID        string `json:"system_id,omitempty"`
	SourceAddr      string `json:"source_addr,omitempty"`
	SourceAddrTON   uint8  `json:"source_addr_ton,omitempty"`
	SourceAddrNPI   uint8  `json:"source_addr_npi,omitempty"`
	DestinationAddr string `json:"destination_addr,omitempty"`
	DestAddrTON     uint8  `json:"dest_addr_ton,omitempty"`
	DestAddrNPI     uint8  `json:"dest_addr_npi,omitempty"`
}

func (c *DLRContent) ID() string { return c.MessageID }

func (c *DLRContent) Validate() error {
	if err := checkHeader(c.Version, c.MessageID); err != nil {
		return err
	}
	if !ValidDLRStatus(c.MessageStatus) {
		return fmt.Errorf("%w: dlr status %q", ErrInvalidContent, c.MessageStatus)
	}
	if c.SystemID != "" {
		return nil
	}
	if c.Level < 1 || c.Level > 3 {
		return fmt.Errorf("%w: dlr level %d", ErrInvalidContent, c.Level)
	}
	if c.Method != "" && c.Method != "GET" && c.Method != "POST" {
		return fmt.Errorf("%w: dlr method %q", ErrInvalidContent, c.Method)
	}
	return nil
}

// ValidDLRStatus accepts ESME_* command statuses and final receipt states.
func ValidDLRStatus(s string) bool {
	if len(s) > 5 && s[:5] == "ESME_" {
		return true
	}
	return slices.Contains(dlrFinalStatuses, s)
}

func checkHeader(version int, id string) error {
	if version != ContentVersion {
		return fmt.Errorf("%w: %d", ErrVersion, version)
	}
	if id == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidContent)
	}
	return nil
}

// Encode validates c and builds the message to publish.
func Encode(c Content) (Message, error) {
	if err := c.Validate(); err != nil {
		return Message{}, err
	}
	body, err := json.Marshal(c)
	if err != nil {
		return Message{}, fmt.Errorf("encode %T: %w", c, err)
	}
	msg := Message{MessageID: c.ID(), ContentType: contentTypeJSON, Body: body}
	if s, ok := c.(*SubmitSmContent); ok {
		msg.Priority = s.Priority
	}
	return msg, nil
}

// Decode unmarshals body into c and validates it.
func Decode(body []byte, c Content) error {
	if err := json.Unmarshal(body, c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}
	return c.Validate()
}

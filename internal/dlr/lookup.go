package dlr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/queue"
)

// Publisher is the part of queue.Broker the lookup needs.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg queue.Message) error
}

var (
	successStates = []string{"ACCEPTD", "DELIVRD"}
	finalStates   = []string{"DELIVRD", "EXPIRED", "DELETED", "UNDELIV", "REJECTD"}
)

// Lookup turns submit_sm_resp and receipt events into receipts thrown on
// dlr_thrower.http and dlr_thrower.smpps.
type Lookup struct {
	store Store
	pub   Publisher
	now   func() time.Time

	// ReceiptOnSuccessSubmitSmResp also throws an smpps receipt for ESME_ROK responses.
	ReceiptOnSuccessSubmitSmResp bool
}

func NewLookup(store Store, pub Publisher) *Lookup {
	return &Lookup{store: store, pub: pub, now: time.Now}
}

// Request records the receipt request of a submit before it is sent.
func (l *Lookup) Request(ctx context.Context, m Mapping) error {
	if m.MessageID == "" {
		return fmt.Errorf("dlr request without message id")
	}
	if m.SourceConnector != SourceHTTPAPI && m.SourceConnector != SourceSMPPSAPI {
		return fmt.Errorf("dlr request for %s: unknown source connector %q", m.MessageID, m.SourceConnector)
	}
	if m.SubmitAt.IsZero() {
		m.SubmitAt = l.now()
	}
	return l.store.SetSubmitMapping(ctx, m.MessageID, m, time.Duration(m.Expiry)*time.Second)
}

// SubmitSmResp handles the SMSC answer to msgID. smscMsgID is the message_id of the response.
// ErrNotFound means nobody asked for a receipt.
func (l *Lookup) SubmitSmResp(ctx context.Context, msgID, status, smscMsgID string) error {
	ctx = logging.ContextWithMessageID(ctx, msgID)
	m, err := l.store.GetSubmitMapping(ctx, msgID)
	if err != nil {
		return err
	}
	ttl := time.Duration(m.Expiry) * time.Second
	ok := status == "ESME_ROK"

	switch m.SourceConnector {
	case SourceHTTPAPI:
		if m.DLRLevel == 1 || m.DLRLevel == 3 {
			c := &queue.DLRContent{
				Version:       queue.ContentVersion,
				MessageID:     msgID,
				MessageStatus: status,
				Level:         1,
				URL:           m.DLRURL,
				Method:        m.DLRMethod,
				ConnectorID:   m.ConnectorID,
				SMSCMessageID: smscMsgID,
				CreatedAt:     l.now(),
			}
			if err := l.throw(ctx, queue.DLRThrowerKey("http"), c); err != nil {
				return err
			}
			if m.DLRLevel == 1 || !ok {
				if err := l.store.Delete(ctx, msgID); err != nil {
					return err
				}
			}
		}
		if (m.DLRLevel == 2 || m.DLRLevel == 3) && ok {
			return l.store.SetSMSCMapping(ctx, NormalizeMessageID(smscMsgID), SMSCMapping{MessageID: msgID, ConnectorType: SourceHTTPAPI}, ttl)
		}
	case SourceSMPPSAPI:
		rd := m.RegisteredDelivery
		if (ok && (rd == ReceiptRequested || rd == ReceiptOnFailure)) || (!ok && rd == ReceiptOnFailure) {
			if !ok || l.ReceiptOnSuccessSubmitSmResp {
				if err := l.throw(ctx, queue.DLRThrowerKey("smpps"), l.smppsContent(m, status)); err != nil {
					return err
				}
			}
			if ok {
				return l.store.SetSMSCMapping(ctx, NormalizeMessageID(smscMsgID), SMSCMapping{MessageID: msgID, ConnectorType: SourceSMPPSAPI}, ttl)
			}
		}
	default:
		return fmt.Errorf("dlr mapping %s: unknown source connector %q", msgID, m.SourceConnector)
	}
	return nil
}

// Receipt handles a terminal receipt whose id was already coded with CodeMessageID.
func (l *Lookup) Receipt(ctx context.Context, cid, codedID string, r Receipt) error {
	sm, err := l.store.GetSMSCMapping(ctx, codedID)
	if err != nil {
		return err
	}
	ctx = logging.ContextWithMessageID(ctx, sm.MessageID)
	m, err := l.store.GetSubmitMapping(ctx, sm.MessageID)
	if err != nil {
		return err
	}
	if m.SourceConnector != sm.ConnectorType {
		return fmt.Errorf("%w: %s has %s, receipt expects %s", ErrMapMismatch, sm.MessageID, m.SourceConnector, sm.ConnectorType)
	}
	status := r.Status()

	switch sm.ConnectorType {
	case SourceHTTPAPI:
		if m.DLRLevel != 2 && m.DLRLevel != 3 {
			return nil
		}
		c := &queue.DLRContent{
			Version:       queue.ContentVersion,
			MessageID:     sm.MessageID,
			MessageStatus: status,
			Level:         2,
			URL:           m.DLRURL,
			Method:        m.DLRMethod,
			ConnectorID:   cid,
			SMSCMessageID: codedID,
			Sub:           r.Sub,
			Dlvrd:         r.Dlvrd,
			SubDate:       r.SubmitDate,
			DoneDate:      r.DoneDate,
			Err:           r.Err,
			Text:          r.Text,
			CreatedAt:     l.now(),
		}
		if err := l.throw(ctx, queue.DLRThrowerKey("http"), c); err != nil {
			return err
		}
		return l.store.Delete(ctx, sm.MessageID)
	case SourceSMPPSAPI:
		success := slices.Contains(successStates, status)
		rd := m.RegisteredDelivery
		if (success && rd == ReceiptRequested) || (!success && (rd == ReceiptRequested || rd == ReceiptOnFailure)) {
			if err := l.throw(ctx, queue.DLRThrowerKey("smpps"), l.smppsContent(m, status)); err != nil {
				return err
			}
			if slices.Contains(finalStates, status) {
				return l.store.Delete(ctx, sm.MessageID)
			}
		}
	}
	return nil
}

func (l *Lookup) smppsContent(m *Mapping, status string) *queue.DLRContent {
	return &queue.DLRContent{
		Version:         queue.ContentVersion,
		MessageID:       m.MessageID,
		MessageStatus:   status,
		ConnectorID:     m.ConnectorID,
		SubDate:         m.SubmitAt.Format(time.RFC3339),
		CreatedAt:       l.now(),
		SystemID:        m.SystemID,
		SourceAddr:      m.SourceAddr,
		SourceAddrTON:   m.SourceAddrTON,
		SourceAddrNPI:   m.SourceAddrNPI,
		DestinationAddr: m.DestinationAddr,
		DestAddrTON:     m.DestAddrTON,
		DestAddrNPI:     m.DestAddrNPI,
	}
}

func (l *Lookup) throw(ctx context.Context, key string, c *queue.DLRContent) error {
	msg, err := queue.Encode(c)
	if err != nil {
		return err
	}
	if err := l.pub.Publish(ctx, queue.ExchangeMessaging, key, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish receipt", slog.String("routing_key", key), slog.Any("error", err))
		return err
	}
	slog.DebugContext(ctx, "Receipt published", slog.String("routing_key", key), slog.String("status", c.MessageStatus))
	return nil
}

// IsNotFound reports a missing correlation, which is routine for unsolicited receipts.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

package smppclient

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

// Compile-time check
var _ Binder = (*GosmppBinder)(nil)

// GosmppBinder binds sessions with github.com/linxGnu/gosmpp using windowed
// request tracking to correlate submit_sm with their responses.
type GosmppBinder struct {
	Logger *slog.Logger
	// TLSConfig is used for connectors with use_ssl; nil means system roots.
	TLSConfig *tls.Config
}

// NewGosmppBinder returns a binder logging to logger.
func NewGosmppBinder(logger *slog.Logger) *GosmppBinder {
	if logger == nil {
		logger = slog.Default()
	}
	return &GosmppBinder{Logger: logger}
}

// dialer opens a TLS connection to the SMSC when use_ssl is set.
func (b *GosmppBinder) dialer(cfg *ClientConfig) gosmpp.Dialer {
	if !cfg.UseSSL {
		return gosmpp.NonTLSDialer
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if b.TLSConfig != nil {
		tlsCfg = b.TLSConfig.Clone()
	}
	return func(addr string) (net.Conn, error) {
		return tls.Dial("tcp", addr, tlsCfg)
	}
}

type gosmppSession struct {
	cid     string
	session *gosmpp.Session
	events  SessionEvents
	logger  *slog.Logger

	mu      sync.Mutex
	closing bool
}

func (b *GosmppBinder) Bind(ctx context.Context, cfg *ClientConfig, opts BindOptions, events SessionEvents) (Session, error) {
	auth := gosmpp.Auth{
		SMSC:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		SystemID:   cfg.Username,
		Password:   cfg.Password,
		SystemType: cfg.SystemType,
	}

	dialer := b.dialer(cfg)

	var connector gosmpp.Connector
	switch cfg.Bind {
	case BindTransceiver:
		connector = gosmpp.TRXConnector(dialer, auth)
	case BindTransmitter:
		connector = gosmpp.TXConnector(dialer, auth)
	case BindReceiver:
		connector = gosmpp.RXConnector(dialer, auth)
	default:
		return nil, fmt.Errorf("unsupported bind type: %s", cfg.Bind)
	}

	window := opts.WindowSize
	if window <= 0 || window > 255 {
		window = 10
	}

	s := &gosmppSession{cid: cfg.ID, events: events, logger: b.Logger}
	settings := gosmpp.Settings{
		EnquireLink:  cfg.EnquireLinkTimer,
		ReadTimeout:  cfg.InactivityTimer,
		WriteTimeout: cfg.PDUReadTimer,

		WindowedRequestTracking: &gosmpp.WindowedRequestTracking{
			MaxWindowSize:         uint8(window),
			PduExpireTimeOut:      cfg.ResponseTimer,
			ExpireCheckTimer:      time.Second,
			EnableAutoRespond:     false,
			OnReceivedPduRequest:  s.handleReceivedPduRequest,
			OnExpectedPduResponse: s.handleExpectedPduResponse,
			OnExpiredPduRequest:   s.handleExpiredPduRequest,
			OnClosePduRequest:     s.handleClosePduRequest,
		},

		OnSubmitError:    s.onSubmitError,
		OnReceivingError: s.onReceivingError,
		OnRebindingError: s.onRebindingError,
		OnClosed:         s.onClosed,
	}

	done := make(chan bindResult, 1)
	go func() {
		// rebinding is driven by the connector, not by gosmpp
		sess, err := gosmpp.NewSession(connector, settings, 0)
		done <- bindResult{sess, err}
	}()

	timeout := cfg.SessionInitTimer
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("gosmpp.NewSession failed: %w", r.err)
		}
		s.session = r.sess
		return s, nil
	case <-time.After(timeout):
		go closeLate(done)
		return nil, fmt.Errorf("bind not completed within %s", timeout)
	case <-ctx.Done():
		go closeLate(done)
		return nil, ctx.Err()
	}
}

type bindResult struct {
	sess *gosmpp.Session
	err  error
}

// closeLate releases a session whose bind completed after Bind gave up on it.
func closeLate(done <-chan bindResult) {
	if r := <-done; r.sess != nil {
		_ = r.sess.Close()
	}
}

func (s *gosmppSession) Submit(p *smpphelper.PDU) (int32, error) {
	sm, err := toSubmitSM(p)
	if err != nil {
		return 0, err
	}
	seq := sm.GetSequenceNumber()
	if err := s.session.Transceiver().Submit(sm); err != nil {
		return seq, err
	}
	return seq, nil
}

func (s *gosmppSession) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	return s.session.Close()
}

func (s *gosmppSession) logCtx(p pdu.PDU) context.Context {
	ctx := logging.ContextWithConnectorID(context.Background(), s.cid)
	if p != nil {
		ctx = logging.ContextWithPDUInfo(ctx, p.GetHeader().CommandID.String(), p.GetSequenceNumber())
	}
	return ctx
}

func (s *gosmppSession) handleReceivedPduRequest(p pdu.PDU) (pdu.PDU, bool) {
	ctx := s.logCtx(p)
	switch pd := p.(type) {
	case *pdu.DeliverSM:
		s.logger.DebugContext(ctx, "Received DeliverSM")
		msg, err := fromDeliverSM(pd)
		if err != nil {
			s.logger.ErrorContext(ctx, "Cannot decode DeliverSM", slog.Any("error", err))
		} else {
			s.events.Deliver(msg)
		}
		return pd.GetResponse(), false

	case *pdu.DataSM:
		s.logger.DebugContext(ctx, "Received DataSM")
		s.events.Deliver(fromDataSM(pd))
		return pd.GetResponse(), false

	case *pdu.EnquireLink:
		return pd.GetResponse(), false

	case *pdu.Unbind:
		s.logger.InfoContext(ctx, "Received Unbind request from SMSC")
		return pd.GetResponse(), true

	case *pdu.AlertNotification:
		s.logger.InfoContext(ctx, "Received AlertNotification")
	default:
		s.logger.WarnContext(ctx, "Received unexpected PDU type")
	}
	return nil, false
}

func (s *gosmppSession) handleExpectedPduResponse(response gosmpp.Response) {
	req := response.OriginalRequest.PDU
	ctx := s.logCtx(req)
	switch resp := response.PDU.(type) {
	case *pdu.SubmitSMResp:
		s.events.SubmitSmResp(req.GetSequenceNumber(), resp.CommandStatus, resp.MessageID)
	case *pdu.EnquireLinkResp:
		s.logger.DebugContext(ctx, "Received EnquireLinkResp")
	case *pdu.UnbindResp:
		s.logger.InfoContext(ctx, "Received UnbindResp")
	default:
		s.logger.WarnContext(ctx, "Received unexpected response PDU type",
			slog.String("resp_type", response.PDU.GetHeader().CommandID.String()))
	}
}

func (s *gosmppSession) handleExpiredPduRequest(p pdu.PDU) bool {
	ctx := s.logCtx(p)
	switch p.(type) {
	case *pdu.SubmitSM:
		s.logger.WarnContext(ctx, "SubmitSM expired without response")
		s.events.SubmitSmExpired(p.GetSequenceNumber())
		return false
	case *pdu.EnquireLink:
		s.logger.ErrorContext(ctx, "EnquireLink expired, connection is stale")
		return true
	}
	return false
}

func (s *gosmppSession) handleClosePduRequest(p pdu.PDU) {
	if _, ok := p.(*pdu.SubmitSM); ok {
		s.events.SubmitSmExpired(p.GetSequenceNumber())
	}
}

func (s *gosmppSession) onSubmitError(p pdu.PDU, err error) {
	s.logger.WarnContext(s.logCtx(p), "Submit error", slog.Any("error", err))
}

func (s *gosmppSession) onReceivingError(err error) {
	s.logger.ErrorContext(s.logCtx(nil), "Receiving error", slog.Any("error", err))
}

func (s *gosmppSession) onRebindingError(err error) {
	s.logger.ErrorContext(s.logCtx(nil), "Rebinding error", slog.Any("error", err))
}

func (s *gosmppSession) onClosed(state gosmpp.State) {
	s.mu.Lock()
	requested := s.closing
	s.mu.Unlock()
	if requested {
		return
	}
	s.events.Closed(fmt.Errorf("session closed: %s", state.String()))
}

// ============================================================================
// PDU conversion
// ============================================================================

// rawCoding carries already encoded bytes with their data_coding.
type rawCoding byte

func (c rawCoding) Encode(str string) ([]byte, error) { return []byte(str), nil }
func (c rawCoding) Decode(b []byte) (string, error)   { return string(b), nil }
func (c rawCoding) DataCoding() byte                  { return byte(c) }

var _ data.Encoding = rawCoding(0)

func address(ton, npi *uint8, addr string) (pdu.Address, error) {
	a := pdu.NewAddress()
	if ton != nil {
		a.SetTon(*ton)
	}
	if npi != nil {
		a.SetNpi(*npi)
	}
	if err := a.SetAddress(addr); err != nil {
		return a, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return a, nil
}

func toSubmitSM(p *smpphelper.PDU) (*pdu.SubmitSM, error) {
	sm := pdu.NewSubmitSM().(*pdu.SubmitSM)

	src, err := address(p.SourceAddrTON, p.SourceAddrNPI, p.SourceAddr)
	if err != nil {
		return nil, err
	}
	dst, err := address(p.DestAddrTON, p.DestAddrNPI, p.DestinationAddr)
	if err != nil {
		return nil, err
	}
	sm.SourceAddr = src
	sm.DestAddr = dst

	if p.ServiceType != nil {
		sm.ServiceType = *p.ServiceType
	}
	if p.EsmClass != nil {
		sm.EsmClass = *p.EsmClass
	}
	if p.ProtocolID != nil {
		sm.ProtocolID = *p.ProtocolID
	}
	if p.PriorityFlag != nil {
		sm.PriorityFlag = *p.PriorityFlag
	}
	if p.ScheduleDeliveryTime != nil {
		sm.ScheduleDeliveryTime = *p.ScheduleDeliveryTime
	}
	if p.ValidityPeriod != nil {
		sm.ValidityPeriod = *p.ValidityPeriod
	}
	if p.RegisteredDelivery != nil {
		sm.RegisteredDelivery = *p.RegisteredDelivery
	}
	if p.ReplaceIfPresentFlag != nil {
		sm.ReplaceIfPresentFlag = *p.ReplaceIfPresentFlag
	}
	if p.SmDefaultMsgID != nil {
		sm.Message.SmDefaultMsgID = *p.SmDefaultMsgID
	}

	dc := byte(0)
	if p.DataCoding != nil {
		dc = *p.DataCoding
	}
	if err := sm.Message.SetMessageDataWithEncoding(p.ShortMessage, rawCoding(dc)); err != nil {
		return nil, fmt.Errorf("set short_message: %w", err)
	}
	if len(p.MessagePayload) > 0 {
		sm.RegisterOptionalParam(pdu.Field{Tag: pdu.TagMessagePayload, Data: p.MessagePayload})
	}

	if p.SarMsgRefNum != nil && p.SarTotalSegments != nil && p.SarSegmentSeqnum != nil {
		ref := make([]byte, 2)
		binary.BigEndian.PutUint16(ref, *p.SarMsgRefNum)
		sm.RegisterOptionalParam(pdu.Field{Tag: pdu.TagSarMsgRefNum, Data: ref})
		sm.RegisterOptionalParam(pdu.Field{Tag: pdu.TagSarTotalSegments, Data: []byte{*p.SarTotalSegments}})
		sm.RegisterOptionalParam(pdu.Field{Tag: pdu.TagSarSegmentSeqnum, Data: []byte{*p.SarSegmentSeqnum}})
	}
	if p.MoreMessagesToSend != nil {
		sm.RegisterOptionalParam(pdu.Field{Tag: pdu.TagMoreMessagesToSend, Data: []byte{*p.MoreMessagesToSend}})
	}
	return sm, nil
}

func addrParts(a pdu.Address) (*uint8, *uint8, string) {
	return smpphelper.Ptr(a.Ton()), smpphelper.Ptr(a.Npi()), a.Address()
}

// applyTLVs copies the optional parameters the gateway reads into p.
func applyTLVs(p *smpphelper.PDU, opts map[pdu.Tag]pdu.Field) {
	if f, ok := opts[pdu.TagMessagePayload]; ok {
		p.MessagePayload = append([]byte(nil), f.Data...)
	}
	if f, ok := opts[pdu.TagReceiptedMessageID]; ok {
		id := string(f.Data)
		// C-octet string
		if n := len(id); n > 0 && id[n-1] == 0 {
			id = id[:n-1]
		}
		p.ReceiptedMessageID = &id
	}
	if f, ok := opts[pdu.TagMessageStateOption]; ok && len(f.Data) == 1 {
		p.MessageState = smpphelper.Ptr(f.Data[0])
	}
	if f, ok := opts[pdu.TagSarMsgRefNum]; ok && len(f.Data) == 2 {
		p.SarMsgRefNum = smpphelper.Ptr(binary.BigEndian.Uint16(f.Data))
	}
	if f, ok := opts[pdu.TagSarTotalSegments]; ok && len(f.Data) == 1 {
		p.SarTotalSegments = smpphelper.Ptr(f.Data[0])
	}
	if f, ok := opts[pdu.TagSarSegmentSeqnum]; ok && len(f.Data) == 1 {
		p.SarSegmentSeqnum = smpphelper.Ptr(f.Data[0])
	}
	if f, ok := opts[pdu.TagMoreMessagesToSend]; ok && len(f.Data) == 1 {
		p.MoreMessagesToSend = smpphelper.Ptr(f.Data[0])
	}
}

func fromDeliverSM(d *pdu.DeliverSM) (*smpphelper.PDU, error) {
	p := &smpphelper.PDU{
		CommandID:            smpphelper.CommandDeliverSm,
		SequenceNumber:       d.GetSequenceNumber(),
		ServiceType:          smpphelper.Ptr(d.ServiceType),
		EsmClass:             smpphelper.Ptr(d.EsmClass),
		ProtocolID:           smpphelper.Ptr(d.ProtocolID),
		PriorityFlag:         smpphelper.Ptr(d.PriorityFlag),
		RegisteredDelivery:   smpphelper.Ptr(d.RegisteredDelivery),
		ReplaceIfPresentFlag: smpphelper.Ptr(d.ReplaceIfPresentFlag),
		SmDefaultMsgID:       smpphelper.Ptr(d.Message.SmDefaultMsgID),
	}
	p.SourceAddrTON, p.SourceAddrNPI, p.SourceAddr = addrParts(d.SourceAddr)
	p.DestAddrTON, p.DestAddrNPI, p.DestinationAddr = addrParts(d.DestAddr)
	if enc := d.Message.Encoding(); enc != nil {
		p.DataCoding = smpphelper.Ptr(enc.DataCoding())
	}

	body, err := d.Message.GetMessageData()
	if err != nil {
		return nil, err
	}
	// gosmpp strips the UDH from the message data, put it back
	if udh := d.Message.UDH(); len(udh) > 0 {
		hdr, err := udh.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal udh: %w", err)
		}
		body = append(hdr, body...)
	}
	p.ShortMessage = body
	applyTLVs(p, d.OptionalParameters)
	return p, nil
}

func fromDataSM(d *pdu.DataSM) *smpphelper.PDU {
	p := &smpphelper.PDU{
		CommandID:          smpphelper.CommandDataSm,
		SequenceNumber:     d.GetSequenceNumber(),
		ServiceType:        smpphelper.Ptr(d.ServiceType),
		EsmClass:           smpphelper.Ptr(d.EsmClass),
		RegisteredDelivery: smpphelper.Ptr(d.RegisteredDelivery),
		DataCoding:         smpphelper.Ptr(d.DataCoding),
	}
	p.SourceAddrTON, p.SourceAddrNPI, p.SourceAddr = addrParts(d.SourceAddr)
	p.DestAddrTON, p.DestAddrNPI, p.DestinationAddr = addrParts(d.DestAddr)
	applyTLVs(p, d.OptionalParameters)
	return p
}

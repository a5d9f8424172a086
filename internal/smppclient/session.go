package smppclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linxGnu/gosmpp/data"

	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

var (
	ErrNotBound      = errors.New("session is not bound")
	ErrCannotSubmit  = errors.New("session bind type cannot submit")
	ErrSubmitTimeout = errors.New("no submit_sm_resp received in time")
)

// Session is one bound SMPP session.
type Session interface {
	// Submit sends a single submit_sm and returns its sequence number. The
	// response is reported through SessionEvents.
	Submit(p *smpphelper.PDU) (int32, error)
	// Close unbinds and closes the connection.
	Close() error
}

// SessionEvents receives what happens on a session. Calls may come from any goroutine.
type SessionEvents interface {
	SubmitSmResp(seq int32, status data.CommandStatusType, smscMessageID string)
	SubmitSmExpired(seq int32)
	Deliver(p *smpphelper.PDU)
	// Closed is called once when the session ends without Close being called.
	Closed(err error)
}

// BindOptions carries settings shared by all connectors.
type BindOptions struct {
	WindowSize int
}

// Binder opens bound sessions. The returned session is bound with cfg.Bind.
type Binder interface {
	Bind(ctx context.Context, cfg *ClientConfig, opts BindOptions, events SessionEvents) (Session, error)
}

var statusNames = map[data.CommandStatusType]string{
	data.ESME_ROK:         "ESME_ROK",
	data.ESME_RINVMSGLEN:  "ESME_RINVMSGLEN",
	data.ESME_RINVCMDID:   "ESME_RINVCMDID",
	data.ESME_RINVBNDSTS:  "ESME_RINVBNDSTS",
	data.ESME_RALYBND:     "ESME_RALYBND",
	data.ESME_RSYSERR:     "ESME_RSYSERR",
	data.ESME_RINVSRCADR:  "ESME_RINVSRCADR",
	data.ESME_RINVDSTADR:  "ESME_RINVDSTADR",
	data.ESME_RINVMSGID:   "ESME_RINVMSGID",
	data.ESME_RBINDFAIL:   "ESME_RBINDFAIL",
	data.ESME_RINVPASWD:   "ESME_RINVPASWD",
	data.ESME_RINVSYSID:   "ESME_RINVSYSID",
	data.ESME_RMSGQFUL:    "ESME_RMSGQFUL",
	data.ESME_RSUBMITFAIL: "ESME_RSUBMITFAIL",
	data.ESME_RTHROTTLED:  "ESME_RTHROTTLED",
	data.ESME_RINVSCHED:   "ESME_RINVSCHED",
	data.ESME_RINVEXPIRY:  "ESME_RINVEXPIRY",
	data.ESME_RX_T_APPN:   "ESME_RX_T_APPN",
	data.ESME_RX_P_APPN:   "ESME_RX_P_APPN",
	data.ESME_RX_R_APPN:   "ESME_RX_R_APPN",
	data.ESME_RUNKNOWNERR: "ESME_RUNKNOWNERR",
}

// StatusName renders a command status the way receipts and logs show it (ESME_ROK, ...).
func StatusName(status data.CommandStatusType) string {
	if n, ok := statusNames[status]; ok {
		return n
	}
	return fmt.Sprintf("0x%08X", uint32(status))
}

// SubmitResult is the outcome of one submit_sm.
type SubmitResult struct {
	Sequence      int32
	Status        data.CommandStatusType
	SMSCMessageID string
	Err           error
	Latency       time.Duration
}

// OK reports whether the SMSC accepted the submit.
func (r SubmitResult) OK() bool { return r.Err == nil && r.Status == data.ESME_ROK }

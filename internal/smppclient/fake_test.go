package smppclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/linxGnu/gosmpp/data"

	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

var errBindRefused = errors.New("bind refused")

type fakeSession struct {
	binder *fakeBinder
	events SessionEvents

	mu        sync.Mutex
	seq       int32
	submitted []*smpphelper.PDU
	closed    bool
}

func (s *fakeSession) Submit(p *smpphelper.PDU) (int32, error) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.submitted = append(s.submitted, p)
	s.mu.Unlock()

	status, silent := s.binder.response()
	if !silent {
		// the connector holds its pending lock while Submit runs
		go s.events.SubmitSmResp(seq, status, fmt.Sprintf("smsc-%d", seq))
	}
	return seq, nil
}

func (s *fakeSession) Close() error {
	s.binder.mu.Lock()
	delay := s.binder.closeDelay
	s.binder.mu.Unlock()
	time.Sleep(delay)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Submitted() []*smpphelper.PDU {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*smpphelper.PDU(nil), s.submitted...)
}

func (s *fakeSession) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeBinder hands out fakeSessions. failures is the number of binds refused before one succeeds.
type fakeBinder struct {
	mu       sync.Mutex
	binds    int
	failures int
	status   data.CommandStatusType
	silent   bool
	sessions []*fakeSession
	// closeDelay slows down session close, as an SMSC slow to answer unbind does
	closeDelay time.Duration
}

func (b *fakeBinder) Bind(ctx context.Context, cfg *ClientConfig, _ BindOptions, events SessionEvents) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.binds++
	if b.failures != 0 {
		if b.failures > 0 {
			b.failures--
		}
		return nil, errBindRefused
	}
	s := &fakeSession{binder: b, events: events}
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBinder) response() (data.CommandStatusType, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.silent
}

func (b *fakeBinder) setResponse(status data.CommandStatusType, silent bool) {
	b.mu.Lock()
	b.status, b.silent = status, silent
	b.mu.Unlock()
}

func (b *fakeBinder) setFailures(n int) {
	b.mu.Lock()
	b.failures = n
	b.mu.Unlock()
}

func (b *fakeBinder) Binds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.binds
}

func (b *fakeBinder) last() *fakeSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sessions) == 0 {
		return nil
	}
	return b.sessions[len(b.sessions)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

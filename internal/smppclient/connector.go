package smppclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/linxGnu/gosmpp/data"
	"golang.org/x/time/rate"

	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/stats"
	"github.com/thrillee/aegisrouter/pkg/codes"
	"github.com/thrillee/aegisrouter/pkg/errormapper"
	"github.com/thrillee/aegisrouter/pkg/smpphelper"
)

var (
	ErrAlreadyStarted = errors.New("connector already started")
	ErrAlreadyStopped = errors.New("connector already stopped")
)

// Compile-time check
var _ SessionEvents = (*sessionEvents)(nil)

// DeliverHandler receives MO deliver_sm and data_sm.
type DeliverHandler func(ctx context.Context, cid string, p *smpphelper.PDU)

// ConnectorOptions are the settings shared by every connector of a manager.
type ConnectorOptions struct {
	Binder              Binder
	Stats               *stats.Registry
	Throttle            *stats.Throttle // raised on ESME_RTHROTTLED, may be nil
	Logger              *slog.Logger
	LogDir              string
	UnbindTimeout       time.Duration
	WindowSize          int
	LongContentMaxParts int
	LongContentSplit    string
}

// Connector is one SMPP client connector: a service that, once started,
// keeps a session bound to the SMSC according to its reconnection policy.
type Connector struct {
	opts  ConnectorOptions
	stats *stats.Stats

	// opMu serializes Start and Stop.
	opMu sync.Mutex

	mu        sync.RWMutex
	cfg       *ClientConfig
	factory   *OperationFactory
	limiter   *rate.Limiter
	logger    *slog.Logger
	logCloser io.Closer
	service   string
	state     string
	session   Session
	cancel    context.CancelFunc
	done      chan struct{}
	onDeliver DeliverHandler

	// pendMu is held while a submit_sm is written so its response is never
	// looked up before it is registered.
	pendMu  sync.Mutex
	pending map[int32]chan SubmitResult
}

// NewConnector returns a stopped connector for cfg.
func NewConnector(cfg *ClientConfig, opts ConnectorOptions) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.UnbindTimeout <= 0 {
		opts.UnbindTimeout = 10 * time.Second
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewRegistry()
	}
	c := &Connector{
		opts:    opts,
		stats:   opts.Stats.Connector(cfg.ID),
		service: codes.ServiceStopped,
		state:   codes.SessionNone,
		logger:  opts.Logger.With(slog.String("cid", cfg.ID)),
		pending: make(map[int32]chan SubmitResult),
	}
	c.applyConfig(cfg.Clone())
	return c, nil
}

// ID returns the connector id.
func (c *Connector) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.ID
}

// Config returns a copy of the current configuration.
func (c *Connector) Config() *ClientConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Clone()
}

func limitFor(tps float64) rate.Limit {
	if tps <= 0 {
		return rate.Inf
	}
	return rate.Limit(tps)
}

// applyConfig swaps the configuration. Settings read at bind time only apply on the next start.
func (c *Connector) applyConfig(cfg *ClientConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.factory = NewOperationFactory(cfg, c.opts.LongContentMaxParts, c.opts.LongContentSplit, c.logger)
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(limitFor(cfg.SubmitSmThroughput), 1)
	} else {
		c.limiter.SetLimit(limitFor(cfg.SubmitSmThroughput))
	}
}

// SetDeliverHandler installs the MO handler.
func (c *Connector) SetDeliverHandler(h DeliverHandler) {
	c.mu.Lock()
	c.onDeliver = h
	c.mu.Unlock()
}

// Factory returns the operation factory for the current configuration.
func (c *Connector) Factory() *OperationFactory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.factory
}

// ServiceStatus is STOPPED, STARTING, STARTED or STOPPING.
func (c *Connector) ServiceStatus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service
}

// SessionState is the state of the current SMPP session.
func (c *Connector) SessionState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns the connector counters.
func (c *Connector) Stats() *stats.Stats { return c.stats }

func (c *Connector) log() *slog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

func (c *Connector) setState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// ============================================================================
// Service lifecycle
// ============================================================================

// Start starts the service and returns once the bind loop is running. Binding
// happens in the background.
func (c *Connector) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.service != codes.ServiceStopped {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.service = codes.ServiceStarting
	cfg := c.cfg.Clone()
	if c.logCloser != nil {
		_ = c.logCloser.Close()
		c.logCloser = nil
	}
	c.mu.Unlock()

	logger, closer := c.openLogger(cfg)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.logger, c.logCloser = logger, closer
	c.cancel, c.done = cancel, done
	c.service = codes.ServiceStarted
	c.state = codes.SessionNone
	c.mu.Unlock()

	_ = c.stats.Inc(stats.StartCount)
	logger.InfoContext(logging.ContextWithConnectorID(ctx, cfg.ID), "Connector started",
		slog.String("host", cfg.Host), slog.Int("port", cfg.Port), slog.String("bind", cfg.Bind))

	go c.run(runCtx, cfg, done)
	return nil
}

// Stop unbinds the session, cancels any pending reconnection and waits for
// the bind loop to finish.
func (c *Connector) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.service == codes.ServiceStopped || c.service == codes.ServiceStopping {
		c.mu.Unlock()
		return ErrAlreadyStopped
	}
	c.service = codes.ServiceStopping
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	logCtx := logging.ContextWithConnectorID(ctx, c.ID())
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			// the bind loop is bounded by the unbind timeout, it finishes the stop
			go func() {
				<-done
				c.stopped()
				c.log().InfoContext(context.WithoutCancel(logCtx), "Connector stopped after the stop request ended")
			}()
			return ctx.Err()
		}
	}
	c.stopped()
	c.log().InfoContext(logCtx, "Connector stopped")
	return nil
}

// stopped resets the service, counts the stop and releases the connector log.
func (c *Connector) stopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stoppedLocked()
}

func (c *Connector) stoppedLocked() {
	_ = c.stats.Inc(stats.StopCount)
	c.service = codes.ServiceStopped
	c.cancel = nil
	if c.logCloser != nil {
		_ = c.logCloser.Close()
		c.logCloser = nil
		c.logger = c.opts.Logger.With(slog.String("cid", c.cfg.ID))
	}
}

func (c *Connector) openLogger(cfg *ClientConfig) (*slog.Logger, io.Closer) {
	base := c.opts.Logger.With(slog.String("cid", cfg.ID))
	path := cfg.LogFile
	if path == "" && c.opts.LogDir != "" {
		path = filepath.Join(c.opts.LogDir, "smppc-"+cfg.ID+".log")
	}
	if path == "" {
		return base, nil
	}
	logger, closer, err := logging.NewRotatingFile(path, cfg.LogRotate, cfg.LogLevel)
	if err != nil {
		base.Warn("Cannot open connector log file, using process log", slog.String("path", path), slog.Any("error", err))
		return base, nil
	}
	return logger.With(slog.String("cid", cfg.ID)), closer
}

// run binds and keeps the session bound until ctx is cancelled or the
// reconnection policy gives up.
func (c *Connector) run(ctx context.Context, cfg *ClientConfig, done chan struct{}) {
	defer close(done)
	ctx = logging.ContextWithConnectorID(ctx, cfg.ID)
	logger := c.log()

	for {
		c.setState(codes.SessionBinding)
		lost := make(chan error, 1)
		sess, err := c.opts.Binder.Bind(ctx, cfg, BindOptions{WindowSize: c.opts.WindowSize}, &sessionEvents{c: c, lost: lost})
		if err != nil {
			c.setState(codes.SessionUnbound)
			if ctx.Err() != nil {
				return
			}
			logger.ErrorContext(ctx, "Connection failed", slog.Any("error", err))
			if !cfg.ReconnectOnConnectionFailure {
				c.giveUp(ctx)
				return
			}
			logger.InfoContext(ctx, "Reconnecting after connection failure", slog.Duration("delay", cfg.ReconnectOnConnectionFailureDelay))
			if !sleepCtx(ctx, cfg.ReconnectOnConnectionFailureDelay) {
				return
			}
			continue
		}

		c.bound(cfg.Bind, sess)
		logger.InfoContext(ctx, "Session bound", slog.String("state", c.SessionState()))

		select {
		case <-ctx.Done():
			c.unbind(sess)
			return
		case err := <-lost:
			c.lost(err)
			logger.WarnContext(ctx, "Connection lost", slog.Any("error", err))
			if !cfg.ReconnectOnConnectionLoss {
				c.giveUp(ctx)
				return
			}
			logger.InfoContext(ctx, "Reconnecting after connection loss", slog.Duration("delay", cfg.ReconnectOnConnectionLossDelay))
			if !sleepCtx(ctx, cfg.ReconnectOnConnectionLossDelay) {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// giveUp stops the service from within the bind loop.
func (c *Connector) giveUp(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.service != codes.ServiceStarted {
		// a concurrent Stop owns the transition
		return
	}
	c.logger.WarnContext(ctx, "Reconnection disabled, connector stopped")
	c.stoppedLocked()
}

func (c *Connector) bound(bind string, sess Session) {
	now := c.opts.Stats.Now()
	state, countKey := codes.SessionBoundTRX, stats.BoundTRXCount
	switch bind {
	case BindTransmitter:
		state, countKey = codes.SessionBoundTX, stats.BoundTXCount
	case BindReceiver:
		state, countKey = codes.SessionBoundRX, stats.BoundRXCount
	}

	c.mu.Lock()
	c.session = sess
	c.state = state
	c.mu.Unlock()

	_ = c.stats.Set(stats.ConnectedAt, now)
	_ = c.stats.Set(stats.BoundAt, now)
	_ = c.stats.Inc(stats.ConnectedCount)
	_ = c.stats.Inc(stats.BoundCount)
	_ = c.stats.Inc(countKey)
}

func (c *Connector) lost(err error) {
	c.mu.Lock()
	c.session = nil
	c.state = codes.SessionUnbound
	c.mu.Unlock()
	_ = c.stats.Set(stats.DisconnectedAt, c.opts.Stats.Now())
	_ = c.stats.Inc(stats.DisconnectedCount)
	c.failPending(fmt.Errorf("%w: %v", ErrNotBound, err))
}

// unbind closes sess, giving up after the unbind timeout.
func (c *Connector) unbind(sess Session) {
	c.mu.Lock()
	c.state = codes.SessionUnbinding
	c.session = nil
	c.mu.Unlock()

	closed := make(chan error, 1)
	go func() { closed <- sess.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			c.log().Warn("Error during session close", slog.Any("error", err))
		}
	case <-time.After(c.opts.UnbindTimeout):
		c.log().Warn("Unbind timed out", slog.Duration("timeout", c.opts.UnbindTimeout))
	}

	c.setState(codes.SessionUnbound)
	_ = c.stats.Set(stats.DisconnectedAt, c.opts.Stats.Now())
	_ = c.stats.Inc(stats.DisconnectedCount)
	c.failPending(ErrNotBound)
}

// ============================================================================
// Submission
// ============================================================================

// CanSubmit reports whether the connector is bound with a bind type allowing submit_sm.
func (c *Connector) CanSubmit() bool {
	return codes.CanSubmit(c.SessionState())
}

// SubmitPDU sends every segment of p in order and waits for each response.
// It stops at the first segment that is not accepted.
func (c *Connector) SubmitPDU(ctx context.Context, p *smpphelper.PDU) ([]SubmitResult, error) {
	c.mu.RLock()
	state, limiter := c.state, c.limiter
	c.mu.RUnlock()
	if !codes.IsBound(state) {
		return nil, ErrNotBound
	}
	if !codes.CanSubmit(state) {
		return nil, ErrCannotSubmit
	}
	// throughput is spent once per message, its segments go out together
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var results []SubmitResult
	for _, seg := range p.Segments() {
		single := *seg
		single.Next = nil
		r, err := c.submitOne(ctx, &single)
		if err != nil {
			return results, err
		}
		results = append(results, r)
		if !r.OK() {
			break
		}
	}
	return results, nil
}

func (c *Connector) submitOne(ctx context.Context, p *smpphelper.PDU) (SubmitResult, error) {
	c.mu.RLock()
	sess, state, cfg := c.session, c.state, c.cfg
	c.mu.RUnlock()

	if sess == nil || !codes.IsBound(state) {
		return SubmitResult{}, ErrNotBound
	}
	if !codes.CanSubmit(state) {
		return SubmitResult{}, ErrCannotSubmit
	}
	ch := make(chan SubmitResult, 1)
	started := time.Now()
	c.pendMu.Lock()
	seq, err := sess.Submit(p)
	if err == nil {
		c.pending[seq] = ch
	}
	c.pendMu.Unlock()
	if err != nil {
		_ = c.stats.Inc(stats.OtherSubmitErrorCount)
		return SubmitResult{Sequence: seq}, fmt.Errorf("submit_sm: %w", err)
	}

	now := c.opts.Stats.Now()
	_ = c.stats.Inc(stats.SubmitSmCount)
	_ = c.stats.Set(stats.LastSentPduAt, now)
	_ = c.stats.Set(stats.LastSeqNum, seq)
	_ = c.stats.Set(stats.LastSeqNumAt, now)

	timeout := cfg.ResponseTimer + cfg.PDUReadTimer
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		r.Latency = time.Since(started)
		return r, nil
	case <-timer.C:
		c.dropPending(seq)
		return SubmitResult{Sequence: seq}, ErrSubmitTimeout
	case <-ctx.Done():
		c.dropPending(seq)
		return SubmitResult{Sequence: seq}, ctx.Err()
	}
}

func (c *Connector) takePending(seq int32) chan SubmitResult {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	ch, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	return ch
}

func (c *Connector) dropPending(seq int32) { c.takePending(seq) }

func (c *Connector) failPending(err error) {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for seq, ch := range c.pending {
		ch <- SubmitResult{Sequence: seq, Err: err}
		delete(c.pending, seq)
	}
}

// ============================================================================
// Session events
// ============================================================================

type sessionEvents struct {
	c    *Connector
	lost chan error
	once sync.Once
}

func (e *sessionEvents) SubmitSmResp(seq int32, status data.CommandStatusType, smscMessageID string) {
	c := e.c
	_ = c.stats.Inc(stats.SubmitSmRespCount)
	_ = c.stats.Set(stats.LastReceivedPduAt, c.opts.Stats.Now())
	switch {
	case status == data.ESME_ROK:
	case errormapper.IsThrottling(status):
		_ = c.stats.Inc(stats.ThrottlingErrorCount)
		if c.opts.Throttle != nil {
			c.opts.Throttle.On()
		}
	default:
		_ = c.stats.Inc(stats.OtherSubmitErrorCount)
	}

	ch := c.takePending(seq)
	if ch == nil {
		c.log().Warn("submit_sm_resp for unknown sequence number", slog.Int("seq_num", int(seq)))
		return
	}
	ch <- SubmitResult{Sequence: seq, Status: status, SMSCMessageID: smscMessageID}
}

func (e *sessionEvents) SubmitSmExpired(seq int32) {
	if ch := e.c.takePending(seq); ch != nil {
		ch <- SubmitResult{Sequence: seq, Err: ErrSubmitTimeout}
	}
}

func (e *sessionEvents) Deliver(p *smpphelper.PDU) {
	c := e.c
	key := stats.DeliverSmCount
	if p.CommandID == smpphelper.CommandDataSm {
		key = stats.DataSmCount
	}
	_ = c.stats.Inc(key)
	_ = c.stats.Set(stats.LastReceivedPduAt, c.opts.Stats.Now())

	c.mu.RLock()
	h, cid := c.onDeliver, c.cfg.ID
	c.mu.RUnlock()
	if h == nil {
		c.log().Warn("Received MO but no deliver handler is registered", slog.String("command", p.CommandID))
		return
	}
	h(logging.ContextWithConnectorID(context.Background(), cid), cid, p)
}

func (e *sessionEvents) Closed(err error) {
	e.once.Do(func() { e.lost <- err })
}

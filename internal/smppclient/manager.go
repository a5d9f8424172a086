package smppclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thrillee/aegisrouter/internal/dlr"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/stats"
	"github.com/thrillee/aegisrouter/internal/store"
	"github.com/thrillee/aegisrouter/pkg/codes"
)

// PersistScope is the scope connector configurations are persisted under.
const PersistScope = "smppccs"

var (
	ErrConnectorNotFound = errors.New("connector not found")
	ErrConnectorExists   = errors.New("connector already exists")
	ErrConnectorStopped  = errors.New("connector service is not started")
	ErrNoBackend         = errors.New("no persistence backend configured")
)

// ManagerOptions holds the dependencies of a Manager.
type ManagerOptions struct {
	Connector    ConnectorOptions
	Broker       queue.Broker
	Lookup       *dlr.Lookup
	DLRStore     dlr.Store
	Backend      store.Backend
	RestartDelay time.Duration
	Logger       *slog.Logger
}

// Manager owns the SMPP client connectors of the process.
type Manager struct {
	opts   ManagerOptions
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	entries   map[string]*entry
	persisted bool
}

type entry struct {
	conn     *Connector
	listener *Listener
}

// ConnectorInfo is one line of List.
type ConnectorInfo struct {
	ID            string `json:"cid"`
	ServiceStatus string `json:"service_status"`
	SessionState  string `json:"session_state"`
	StartCount    int64  `json:"start_count"`
	StopCount     int64  `json:"stop_count"`
}

// UpdateResult reports a configuration update. Status is non nil when the
// connector is being restarted; it yields operator status lines and is closed
// once the restart is over.
type UpdateResult struct {
	Keys    []ConfigKey
	Restart bool
	Status  <-chan string
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Connector.Logger == nil {
		opts.Connector.Logger = opts.Logger
	}
	if opts.Connector.Stats == nil {
		opts.Connector.Stats = stats.NewRegistry()
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

func (m *Manager) get(cid string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[cid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectorNotFound, cid)
	}
	return e, nil
}

func (m *Manager) markDirty() {
	m.mu.Lock()
	m.persisted = false
	m.mu.Unlock()
}

// Has reports whether cid is a known connector.
func (m *Manager) Has(cid string) bool {
	_, err := m.get(cid)
	return err == nil
}

// Connector returns the connector cid.
func (m *Manager) Connector(cid string) (*Connector, error) {
	e, err := m.get(cid)
	if err != nil {
		return nil, err
	}
	return e.conn, nil
}

// Factory returns the operation factory of connector cid.
func (m *Manager) Factory(cid string) (*OperationFactory, error) {
	e, err := m.get(cid)
	if err != nil {
		return nil, err
	}
	return e.conn.Factory(), nil
}

// Add registers a stopped connector.
func (m *Manager) Add(ctx context.Context, cfg *ClientConfig) error {
	if err := cfg.Validate(); err != nil {
		m.logger.WarnContext(ctx, "Invalid connector configuration", slog.Any("error", err))
		return err
	}
	ctx = logging.ContextWithConnectorID(ctx, cfg.ID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[cfg.ID]; ok {
		return fmt.Errorf("%w: %s", ErrConnectorExists, cfg.ID)
	}
	conn, err := NewConnector(cfg, m.opts.Connector)
	if err != nil {
		return err
	}
	e := &entry{conn: conn}
	if m.opts.Broker != nil {
		e.listener = NewListener(conn, m.opts.Broker, m.opts.Lookup, m.opts.DLRStore, m.logger)
	}
	m.entries[cfg.ID] = e
	m.persisted = false
	m.logger.InfoContext(ctx, "Connector added")
	return nil
}

// Remove stops and forgets a connector.
func (m *Manager) Remove(ctx context.Context, cid string) error {
	e, err := m.get(cid)
	if err != nil {
		return err
	}
	ctx = logging.ContextWithConnectorID(ctx, cid)
	if err := m.stopEntry(ctx, e); err != nil && !errors.Is(err, ErrAlreadyStopped) {
		return err
	}

	m.mu.Lock()
	delete(m.entries, cid)
	m.persisted = false
	m.mu.Unlock()
	m.opts.Connector.Stats.RemoveConnector(cid)
	m.logger.InfoContext(ctx, "Connector removed")
	return nil
}

// Start starts the connector service and its submit listener.
func (m *Manager) Start(ctx context.Context, cid string) error {
	e, err := m.get(cid)
	if err != nil {
		return err
	}
	if err := e.conn.Start(ctx); err != nil {
		return err
	}
	if e.listener != nil {
		if err := e.listener.Start(ctx); err != nil {
			m.logger.ErrorContext(logging.ContextWithConnectorID(ctx, cid), "Cannot start submit listener", slog.Any("error", err))
			_ = e.conn.Stop(ctx)
			return err
		}
	}
	m.markDirty()
	return nil
}

// Stop stops the connector service and its submit listener.
func (m *Manager) Stop(ctx context.Context, cid string) error {
	e, err := m.get(cid)
	if err != nil {
		return err
	}
	if err := m.stopEntry(ctx, e); err != nil {
		return err
	}
	m.markDirty()
	return nil
}

func (m *Manager) stopEntry(ctx context.Context, e *entry) error {
	if e.listener != nil {
		e.listener.Stop()
	}
	return e.conn.Stop(ctx)
}

// StopAll stops every started connector and cancels pending restarts.
func (m *Manager) StopAll(ctx context.Context) {
	m.cancel()
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			if err := m.stopEntry(ctx, e); err != nil && !errors.Is(err, ErrAlreadyStopped) {
				m.logger.WarnContext(ctx, "Cannot stop connector", slog.String("cid", e.conn.ID()), slog.Any("error", err))
			}
		}(e)
	}
	wg.Wait()
}

// List returns every connector sorted by id.
func (m *Manager) List() []ConnectorInfo {
	m.mu.RLock()
	out := make([]ConnectorInfo, 0, len(m.entries))
	for cid, e := range m.entries {
		st := e.conn.Stats()
		out = append(out, ConnectorInfo{
			ID:            cid,
			ServiceStatus: e.conn.ServiceStatus(),
			SessionState:  e.conn.SessionState(),
			StartCount:    st.Count(stats.StartCount),
			StopCount:     st.Count(stats.StopCount),
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Details returns a copy of the connector configuration.
func (m *Manager) Details(cid string) (*ClientConfig, error) {
	e, err := m.get(cid)
	if err != nil {
		return nil, err
	}
	return e.conn.Config(), nil
}

func (m *Manager) ServiceStatus(cid string) (string, error) {
	e, err := m.get(cid)
	if err != nil {
		return "", err
	}
	return e.conn.ServiceStatus(), nil
}

func (m *Manager) SessionState(cid string) (string, error) {
	e, err := m.get(cid)
	if err != nil {
		return "", err
	}
	return e.conn.SessionState(), nil
}

// UpdateConfig applies every key of updates or none. When the connector is
// started and a key requires a restart, the connector is restarted in the
// background and the result carries its status lines.
func (m *Manager) UpdateConfig(ctx context.Context, cid string, updates map[string]string) (*UpdateResult, error) {
	e, err := m.get(cid)
	if err != nil {
		return nil, err
	}
	ctx = logging.ContextWithConnectorID(ctx, cid)

	cfg := e.conn.Config()
	res := &UpdateResult{}
	for name, value := range updates {
		key, err := cfg.Set(name, value)
		if err != nil {
			m.logger.WarnContext(ctx, "Invalid connector update", slog.String("key", name), slog.Any("error", err))
			return nil, err
		}
		res.Keys = append(res.Keys, key)
		if RequiresRestart(key) {
			res.Restart = true
		}
	}
	e.conn.applyConfig(cfg)
	m.markDirty()

	if !res.Restart || e.conn.ServiceStatus() != codes.ServiceStarted {
		res.Restart = false
		m.logger.InfoContext(ctx, codes.UpdateNoRestartNeeded)
		return res, nil
	}

	status := make(chan string, 16)
	res.Status = status
	go m.restart(logging.ContextWithConnectorID(m.ctx, cid), cid, status)
	return res, nil
}

// restart sequences stop, delay and start, retrying the start until it succeeds or the manager stops.
func (m *Manager) restart(ctx context.Context, cid string, status chan<- string) {
	defer close(status)
	report := func(line string) {
		m.logger.InfoContext(ctx, line)
		select {
		case status <- line:
		default:
		}
	}

	report(codes.UpdateRestarting)
	if err := m.Stop(ctx, cid); err != nil && !errors.Is(err, ErrAlreadyStopped) {
		m.logger.WarnContext(ctx, "Stop before restart failed", slog.Any("error", err))
	}
	for {
		if !sleepCtx(ctx, m.opts.RestartDelay) {
			return
		}
		err := m.Start(ctx, cid)
		if err == nil || errors.Is(err, ErrAlreadyStarted) {
			report(codes.UpdateSucceeded)
			return
		}
		if errors.Is(err, ErrConnectorNotFound) {
			return
		}
		report(fmt.Sprintf(codes.UpdateFailedStarting, m.opts.RestartDelay))
	}
}

// Submit queues c for its connector. A receipt request from the http api is
// recorded before publishing.
func (m *Manager) Submit(ctx context.Context, c *queue.SubmitSmContent) (string, error) {
	e, err := m.get(c.ConnectorID)
	if err != nil {
		return "", err
	}
	if e.conn.ServiceStatus() != codes.ServiceStarted {
		return "", fmt.Errorf("%w: %s", ErrConnectorStopped, c.ConnectorID)
	}
	if m.opts.Broker == nil {
		return "", fmt.Errorf("no broker configured")
	}
	if c.MessageID == "" {
		c.MessageID = uuid.NewString()
	}
	c.Version = queue.ContentVersion
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	ctx = logging.ContextWithMessageID(logging.ContextWithConnectorID(ctx, c.ConnectorID), c.MessageID)

	msg, err := queue.Encode(c)
	if err != nil {
		return "", err
	}
	if c.DLR != nil && c.SourceConnector == queue.SourceHTTPAPI && m.opts.Lookup != nil {
		cfg := e.conn.Config()
		err := m.opts.Lookup.Request(ctx, dlr.Mapping{
			MessageID:       c.MessageID,
			SourceConnector: dlr.SourceHTTPAPI,
			ConnectorID:     c.ConnectorID,
			UserID:          c.UID,
			SubmitAt:        c.CreatedAt,
			Expiry:          int(cfg.DLRExpiry / time.Second),
			DLRLevel:        c.DLR.Level,
			DLRURL:          c.DLR.URL,
			DLRMethod:       c.DLR.Method,
		})
		if err != nil {
			return "", fmt.Errorf("record receipt request: %w", err)
		}
	}
	if err := m.opts.Broker.Publish(ctx, queue.ExchangeMessaging, queue.SubmitSmKey(c.ConnectorID), msg); err != nil {
		return "", fmt.Errorf("publish submit_sm: %w", err)
	}
	m.logger.DebugContext(ctx, "submit_sm queued")
	return c.MessageID, nil
}

// ============================================================================
// Persistence
// ============================================================================

type persistedConnector struct {
	Config  *ClientConfig `json:"config"`
	Service string        `json:"service_status"`
}

// IsPersisted reports whether nothing changed since the last Persist or Load.
func (m *Manager) IsPersisted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.persisted
}

// Persist saves every connector configuration and service status under profile.
func (m *Manager) Persist(ctx context.Context, profile string) error {
	if m.opts.Backend == nil {
		return ErrNoBackend
	}
	m.mu.RLock()
	items := make([]persistedConnector, 0, len(m.entries))
	for _, e := range m.entries {
		items = append(items, persistedConnector{Config: e.conn.Config(), Service: e.conn.ServiceStatus()})
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].Config.ID < items[j].Config.ID })

	data, err := store.Encode(items)
	if err != nil {
		return err
	}
	ctx = logging.ContextWithProfile(ctx, profile)
	if err := m.opts.Backend.Save(ctx, profile, PersistScope, data); err != nil {
		m.logger.ErrorContext(ctx, "Cannot persist connectors", slog.Any("error", err))
		return err
	}
	m.mu.Lock()
	m.persisted = true
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "Connectors persisted", slog.Int("count", len(items)))
	return nil
}

// Load replaces the connectors with the ones persisted under profile and
// starts those that were started.
func (m *Manager) Load(ctx context.Context, profile string) error {
	if m.opts.Backend == nil {
		return ErrNoBackend
	}
	ctx = logging.ContextWithProfile(ctx, profile)
	data, err := m.opts.Backend.Load(ctx, profile, PersistScope)
	if err != nil {
		return err
	}
	var items []persistedConnector
	if _, err := store.Decode(data, &items); err != nil {
		m.logger.ErrorContext(ctx, "Cannot decode persisted connectors", slog.Any("error", err))
		return err
	}
	for _, it := range items {
		if it.Config == nil {
			continue
		}
		if err := it.Config.Validate(); err != nil {
			m.logger.WarnContext(ctx, "Skipping invalid persisted connector", slog.Any("error", err))
			continue
		}
		if m.Has(it.Config.ID) {
			if err := m.Remove(ctx, it.Config.ID); err != nil {
				return err
			}
		}
		if err := m.Add(ctx, it.Config); err != nil {
			return err
		}
		if it.Service == codes.ServiceStarted {
			if err := m.Start(ctx, it.Config.ID); err != nil {
				m.logger.WarnContext(ctx, "Cannot start persisted connector", slog.String("cid", it.Config.ID), slog.Any("error", err))
			}
		}
	}
	m.mu.Lock()
	m.persisted = true
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "Connectors loaded", slog.Int("count", len(items)))
	return nil
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisrouter/internal/auth"
	"github.com/thrillee/aegisrouter/internal/config"
	"github.com/thrillee/aegisrouter/internal/managerapi/handlers/dto"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/router"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/smppclient"
	"github.com/thrillee/aegisrouter/internal/stats"
	"github.com/thrillee/aegisrouter/internal/store"
	"github.com/thrillee/aegisrouter/pkg/codes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeConnectors stands in for smppclient.Manager; connectors never bind.
type fakeConnectors struct {
	mu        sync.Mutex
	configs   map[string]*smppclient.ClientConfig
	status    map[string]string
	submitted []*queue.SubmitSmContent
	submitErr error
	persisted map[string]bool // profile -> saved
}

var _ ConnectorManager = (*fakeConnectors)(nil)

func newFakeConnectors() *fakeConnectors {
	return &fakeConnectors{
		configs:   make(map[string]*smppclient.ClientConfig),
		status:    make(map[string]string),
		persisted: make(map[string]bool),
	}
}

func (f *fakeConnectors) Has(cid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.configs[cid]
	return ok
}

func (f *fakeConnectors) Add(_ context.Context, cfg *smppclient.ClientConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.configs[cfg.ID]; ok {
		return fmt.Errorf("%w: %s", smppclient.ErrConnectorExists, cfg.ID)
	}
	f.configs[cfg.ID] = cfg.Clone()
	f.status[cfg.ID] = codes.ServiceStopped
	return nil
}

func (f *fakeConnectors) Remove(_ context.Context, cid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.configs[cid]; !ok {
		return fmt.Errorf("%w: %s", smppclient.ErrConnectorNotFound, cid)
	}
	delete(f.configs, cid)
	delete(f.status, cid)
	return nil
}

func (f *fakeConnectors) setStatus(cid, want, already string, alreadyErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[cid]
	if !ok {
		return fmt.Errorf("%w: %s", smppclient.ErrConnectorNotFound, cid)
	}
	if st == already {
		return alreadyErr
	}
	f.status[cid] = want
	return nil
}

func (f *fakeConnectors) Start(_ context.Context, cid string) error {
	return f.setStatus(cid, codes.ServiceStarted, codes.ServiceStarted, smppclient.ErrAlreadyStarted)
}

func (f *fakeConnectors) Stop(_ context.Context, cid string) error {
	return f.setStatus(cid, codes.ServiceStopped, codes.ServiceStopped, smppclient.ErrAlreadyStopped)
}

func (f *fakeConnectors) List() []smppclient.ConnectorInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]smppclient.ConnectorInfo, 0, len(f.configs))
	for cid := range f.configs {
		out = append(out, smppclient.ConnectorInfo{ID: cid, ServiceStatus: f.status[cid]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeConnectors) Details(cid string) (*smppclient.ClientConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[cid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", smppclient.ErrConnectorNotFound, cid)
	}
	return cfg.Clone(), nil
}

func (f *fakeConnectors) ServiceStatus(cid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[cid]
	if !ok {
		return "", fmt.Errorf("%w: %s", smppclient.ErrConnectorNotFound, cid)
	}
	return st, nil
}

func (f *fakeConnectors) UpdateConfig(_ context.Context, cid string, updates map[string]string) (*smppclient.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[cid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", smppclient.ErrConnectorNotFound, cid)
	}
	cp := cfg.Clone()
	res := &smppclient.UpdateResult{}
	for k, v := range updates {
		key, err := cp.Set(k, v)
		if err != nil {
			return nil, err
		}
		res.Keys = append(res.Keys, key)
		if smppclient.RequiresRestart(key) && f.status[cid] == codes.ServiceStarted {
			res.Restart = true
		}
	}
	f.configs[cid] = cp
	return res, nil
}

func (f *fakeConnectors) Factory(cid string) (*smppclient.OperationFactory, error) {
	cfg, err := f.Details(cid)
	if err != nil {
		return nil, err
	}
	return smppclient.NewOperationFactory(cfg, 5, smppclient.SplitSAR, discardLogger()), nil
}

func (f *fakeConnectors) Submit(_ context.Context, c *queue.SubmitSmContent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.status[c.ConnectorID] != codes.ServiceStarted {
		return "", fmt.Errorf("%w: %s", smppclient.ErrConnectorStopped, c.ConnectorID)
	}
	c.MessageID = fmt.Sprintf("msg-%d", len(f.submitted)+1)
	f.submitted = append(f.submitted, c)
	return c.MessageID, nil
}

func (f *fakeConnectors) lastSubmitted(t *testing.T) *queue.SubmitSmContent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.submitted)
	return f.submitted[len(f.submitted)-1]
}

func (f *fakeConnectors) submittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func (f *fakeConnectors) IsPersisted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.persisted) > 0
}

func (f *fakeConnectors) Persist(_ context.Context, profile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted[profile] = true
	return nil
}

func (f *fakeConnectors) Load(_ context.Context, profile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.persisted[profile] {
		return fmt.Errorf("%w: %s", store.ErrNotFound, profile)
	}
	return nil
}

// ============================================================================
// API fixture
// ============================================================================

const (
	adminUser     = "radmin"
	adminPassword = "adminpass"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type apiFixture struct {
	engine     *gin.Engine
	router     *router.Service
	connectors *fakeConnectors
	stats      *stats.Registry
	token      string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	broker := queue.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	f := &apiFixture{connectors: newFakeConnectors(), stats: stats.NewRegistry()}
	f.router = router.NewService(router.Options{
		Config:     config.RouterConfig{RoundRobinPolicy: "rotating"},
		Broker:     broker,
		Backend:    backend,
		Stats:      f.stats,
		Connectors: f.connectors,
		Logger:     discardLogger(),
	})

	f.engine = gin.New()
	SetupRoutes(f.engine, Deps{
		Config: config.ManagerAPIConfig{
			AdminUsername: adminUser,
			AdminPassword: adminPassword,
			JWTSecret:     "test-secret",
			TokenTTL:      time.Hour,
		},
		Router:     f.router,
		Connectors: f.connectors,
		Stats:      f.stats,
		Profile:    "test",
	})

	var login dto.LoginResponse
	rec := f.do(t, http.MethodPost, "/login", dto.LoginRequest{Username: adminUser, Password: adminPassword}, &login)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f.token = login.Token
	return f
}

// do sends body as JSON with the admin token and decodes the data field of
// the answer into out when out is not nil.
func (f *apiFixture) do(t *testing.T, method, path string, body, out any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	if out != nil {
		envelope := struct {
			Success bool            `json:"success"`
			Data    json.RawMessage `json:"data"`
		}{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
		if len(envelope.Data) > 0 {
			require.NoError(t, json.Unmarshal(envelope.Data, out))
		}
	}
	return rec
}

func reasonOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	require.False(t, resp.Success)
	return resp.Reason
}

func (f *apiFixture) addGroup(t *testing.T, gid string) {
	t.Helper()
	g, err := auth.NewGroup(gid)
	require.NoError(t, err)
	require.NoError(t, f.router.GroupAdd(context.Background(), g))
}

// addUser stores a user named uid with password "secret"; mutate may adjust
// its MT credential before it is stored.
func (f *apiFixture) addUser(t *testing.T, uid, gid string, mutate func(*auth.MtMessagingCredential)) {
	t.Helper()
	g, err := f.router.GroupGet(gid)
	require.NoError(t, err)
	u, err := auth.NewUser(uid, g, uid, "secret")
	require.NoError(t, err)
	if mutate != nil {
		mutate(u.MtCredential)
	}
	require.NoError(t, f.router.UserAdd(context.Background(), u))
}

// addConnector registers connector cid, started when started is true.
func (f *apiFixture) addConnector(t *testing.T, cid string, started bool) {
	t.Helper()
	cfg, err := smppclient.NewClientConfig(cid)
	require.NoError(t, err)
	require.NoError(t, f.connectors.Add(context.Background(), cfg))
	if started {
		require.NoError(t, f.connectors.Start(context.Background(), cid))
	}
}

func (f *apiFixture) addMTRoute(t *testing.T, spec routing.RouteSpec) {
	t.Helper()
	route, err := spec.Build()
	require.NoError(t, err)
	_, err = f.router.MTRouteAdd(context.Background(), route, spec.Order)
	require.NoError(t, err)
}

func smppcSpec(cids ...string) []routing.ConnectorSpec {
	out := make([]routing.ConnectorSpec, len(cids))
	for i, cid := range cids {
		out[i] = routing.ConnectorSpec{Type: routing.ConnectorSmppClient, CID: cid}
	}
	return out
}

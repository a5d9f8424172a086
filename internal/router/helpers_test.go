package router

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisrouter/internal/auth"
	"github.com/thrillee/aegisrouter/internal/config"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/stats"
	"github.com/thrillee/aegisrouter/internal/store"
)

const waitFor, tick = 2 * time.Second, 5 * time.Millisecond

type knownConnectors map[string]bool

func (k knownConnectors) Has(cid string) bool { return k[cid] }

type fixture struct {
	svc     *Service
	broker  *queue.MemoryBroker
	backend *store.FileBackend
	stats   *stats.Registry
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	f := &fixture{broker: queue.NewMemoryBroker(), backend: backend, stats: stats.NewRegistry()}
	opts := Options{
		Config:     config.RouterConfig{RoundRobinPolicy: "rotating", BillQueueEnabled: true},
		Broker:     f.broker,
		Backend:    backend,
		Stats:      f.stats,
		Connectors: knownConnectors{"smppc_1": true, "smppc_2": true},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.svc = NewService(opts)
	t.Cleanup(func() {
		f.svc.Stop()
		_ = f.broker.Close()
	})
	return f
}

func (f *fixture) addGroup(t *testing.T, gid string) *auth.Group {
	t.Helper()
	g, err := auth.NewGroup(gid)
	require.NoError(t, err)
	require.NoError(t, f.svc.GroupAdd(context.Background(), g))
	return g
}

func (f *fixture) addUser(t *testing.T, uid, gid string, quotas map[string]string) *auth.User {
	t.Helper()
	g, err := f.svc.GroupGet(gid)
	require.NoError(t, err)
	u, err := auth.NewUser(uid, g, uid+"_name", "secret")
	require.NoError(t, err)
	for k, v := range quotas {
		require.NoError(t, u.MtCredential.SetQuota(k, v))
	}
	require.NoError(t, f.svc.UserAdd(context.Background(), u))
	return u
}

func httpConnector(t *testing.T, cid string) *routing.HttpConnector {
	t.Helper()
	c, err := routing.NewHttpConnector(cid, "http://127.0.0.1:8080/mo", "POST")
	require.NoError(t, err)
	return c
}

func smppcConnector(t *testing.T, cid string) *routing.SmppClientConnector {
	t.Helper()
	c, err := routing.NewSmppClientConnector(cid)
	require.NoError(t, err)
	return c
}

func smppsConnector(t *testing.T, cid string) *routing.SmppServerConnector {
	t.Helper()
	c, err := routing.NewSmppServerConnector(cid)
	require.NoError(t, err)
	return c
}

func dstFilter(t *testing.T, pattern string) routing.Filter {
	t.Helper()
	f, err := routing.NewDestinationAddrFilter(pattern)
	require.NoError(t, err)
	return f
}

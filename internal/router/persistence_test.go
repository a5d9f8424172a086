package router

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/store"
	"github.com/thrillee/aegisrouter/internal/workers"
)

func populate(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	f.addGroup(t, "g1")
	f.addUser(t, "u1", "g1", map[string]string{"balance": "12.5"})

	mt, err := routing.NewFailoverMTRoute([]routing.Filter{dstFilter(t, "^33")},
		[]routing.Connector{smppcConnector(t, "smppc_1"), smppcConnector(t, "smppc_2")}, decimal.RequireFromString("0.75"))
	require.NoError(t, err)
	_, err = f.svc.MTRouteAdd(ctx, mt, 10)
	require.NoError(t, err)
	def, err := routing.NewDefaultRoute(smppcConnector(t, "smppc_1"), decimal.Zero)
	require.NoError(t, err)
	_, err = f.svc.MTRouteAdd(ctx, def, 0)
	require.NoError(t, err)

	mo, err := routing.NewStaticMORoute([]routing.Filter{dstFilter(t, "^1234$")}, httpConnector(t, "http_1"))
	require.NoError(t, err)
	_, err = f.svc.MORouteAdd(ctx, mo, 5)
	require.NoError(t, err)
}

func TestPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	populate(t, f)
	require.NoError(t, f.svc.Persist(ctx, "prod", ScopeAll))

	g := newFixture(t, func(o *Options) { o.Backend = f.backend })
	require.NoError(t, g.svc.Load(ctx, "prod", ScopeAll))
	assert.True(t, g.svc.IsPersisted())

	groups := g.svc.GroupGetAll()
	require.Len(t, groups, 1)
	assert.Equal(t, "g1", groups[0].GID)

	u, err := g.svc.UserGet("u1")
	require.NoError(t, err)
	assert.Equal(t, "g1", u.GID)
	assert.True(t, u.CheckPassword("secret"))
	balance, _ := u.MtCredential.GetQuota("balance")
	assert.Equal(t, "12.5", balance)
	assert.False(t, u.MtCredential.QuotasUpdated)

	mts := g.svc.MTRouteGetAll()
	require.Len(t, mts, 2)
	assert.Equal(t, 10, mts[0].Order)
	assert.Equal(t, routing.KindFailoverMTRoute, mts[0].Route.Kind())
	assert.True(t, mts[0].Route.Rate().Equal(decimal.RequireFromString("0.75")))
	assert.Len(t, mts[0].Route.Connectors(), 2)
	assert.Equal(t, routing.KindDefaultRoute, mts[1].Route.Kind())

	mos := g.svc.MORouteGetAll()
	require.Len(t, mos, 1)
	assert.Equal(t, routing.KindStaticMORoute, mos[0].Route.Kind())
}

func TestLoadGroupsRemovesCurrentUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addGroup(t, "g1")
	require.NoError(t, f.svc.Persist(ctx, "prod", ScopeGroups))

	f.addGroup(t, "g2")
	f.addUser(t, "u2", "g2", nil)
	require.NoError(t, f.svc.Load(ctx, "prod", ScopeGroups))

	assert.Len(t, f.svc.GroupGetAll(), 1)
	assert.Empty(t, f.svc.UserGetAll(""))
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	assert.ErrorIs(t, f.svc.Load(ctx, "missing", ScopeUsers), store.ErrNotFound)
	assert.ErrorIs(t, f.svc.Persist(ctx, "prod", "interceptors"), ErrInvalidScope)
	assert.ErrorIs(t, f.svc.Load(ctx, "prod", "interceptors"), ErrInvalidScope)

	require.NoError(t, f.backend.Save(ctx, "bad", documentName(ScopeMTRoutes), []byte("not a header\n[]")))
	assert.ErrorIs(t, f.svc.Load(ctx, "bad", ScopeMTRoutes), store.ErrInvalidHeader)

	noBackend := newFixture(t, func(o *Options) { o.Backend = nil })
	assert.ErrorIs(t, noBackend.svc.Persist(ctx, "prod", ScopeAll), ErrNoBackend)
	assert.ErrorIs(t, noBackend.svc.Load(ctx, "prod", ScopeAll), ErrNoBackend)
}

func TestLoadRoutesKeepsTableOnBadDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	populate(t, f)

	data, err := store.Encode([]routing.RouteSpec{{Type: "TeleportRoute", Order: 3}})
	require.NoError(t, err)
	require.NoError(t, f.backend.Save(ctx, "bad", documentName(ScopeMTRoutes), data))

	assert.ErrorIs(t, f.svc.Load(ctx, "bad", ScopeMTRoutes), store.ErrDecode)
	assert.Len(t, f.svc.MTRouteGetAll(), 2)
}

func TestPersistQuotasJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addGroup(t, "g1")
	f.addUser(t, "u1", "g1", nil)
	job := f.svc.PersistQuotasJob("prod")

	_, err := job(ctx)
	assert.ErrorIs(t, err, workers.ErrNothingToDo)

	f.addUser(t, "u2", "g1", map[string]string{"balance": "3"})
	n, err := job(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.backend.Load(ctx, "prod", documentName(ScopeUsers))
	require.NoError(t, err)
	_, err = job(ctx)
	assert.ErrorIs(t, err, workers.ErrNothingToDo)
}

package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/thrillee/aegisrouter/internal/auth"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/stats"
)

// checkConnectors verifies every smppc connector of route is known.
func (s *Service) checkConnectors(route routing.Route) error {
	if s.opts.Connectors == nil || route == nil {
		return nil
	}
	for _, c := range route.Connectors() {
		if c.Type() == routing.ConnectorSmppClient && !s.opts.Connectors.Has(c.ID()) {
			return fmt.Errorf("%w: %s", ErrUnknownConnector, c.ID())
		}
	}
	return nil
}

func (s *Service) routeAdd(ctx context.Context, table *routing.RoutingTable, scope string, route routing.Route, order int) (int, error) {
	ctx = logging.ContextWithRouteOrder(ctx, order)
	if err := s.checkConnectors(route); err != nil {
		s.logger.WarnContext(ctx, "Cannot add route", slog.String("table", table.Type().String()), slog.Any("error", err))
		return 0, err
	}
	stored, err := table.Add(route, order)
	if err != nil {
		s.logger.WarnContext(ctx, "Cannot add route", slog.String("table", table.Type().String()), slog.Any("error", err))
		return 0, err
	}
	s.mu.Lock()
	s.dirty(scope)
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "Route added", slog.String("table", table.Type().String()), slog.Int("stored_order", stored), slog.String("route", route.String()))
	return stored, nil
}

func (s *Service) routeRemove(ctx context.Context, table *routing.RoutingTable, scope string, order int) error {
	ctx = logging.ContextWithRouteOrder(ctx, order)
	if err := table.Remove(order); err != nil {
		s.logger.WarnContext(ctx, "Cannot remove route", slog.String("table", table.Type().String()), slog.Any("error", err))
		return err
	}
	s.mu.Lock()
	s.dirty(scope)
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "Route removed", slog.String("table", table.Type().String()))
	return nil
}

func (s *Service) routeFlush(ctx context.Context, table *routing.RoutingTable, scope string) {
	table.Flush()
	s.mu.Lock()
	s.dirty(scope)
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "Routing table flushed", slog.String("table", table.Type().String()))
}

// MTRouteAdd stores route at order and returns the order it was stored at
// (DefaultRoutes always land at 0).
func (s *Service) MTRouteAdd(ctx context.Context, route routing.Route, order int) (int, error) {
	return s.routeAdd(ctx, s.mtTable, ScopeMTRoutes, route, order)
}

func (s *Service) MTRouteRemove(ctx context.Context, order int) error {
	return s.routeRemove(ctx, s.mtTable, ScopeMTRoutes, order)
}

func (s *Service) MTRouteFlush(ctx context.Context) {
	s.routeFlush(ctx, s.mtTable, ScopeMTRoutes)
}

func (s *Service) MTRouteGetAll() []routing.Entry { return s.mtTable.GetAll() }

func (s *Service) MORouteAdd(ctx context.Context, route routing.Route, order int) (int, error) {
	return s.routeAdd(ctx, s.moTable, ScopeMORoutes, route, order)
}

func (s *Service) MORouteRemove(ctx context.Context, order int) error {
	return s.routeRemove(ctx, s.moTable, ScopeMORoutes, order)
}

func (s *Service) MORouteFlush(ctx context.Context) {
	s.routeFlush(ctx, s.moTable, ScopeMORoutes)
}

func (s *Service) MORouteGetAll() []routing.Entry { return s.moTable.GetAll() }

// ============================================================================
// Lookups and charging
// ============================================================================

// RouteResult is a resolved route: the connectors to try, in order.
type RouteResult struct {
	Route      routing.Route
	Order      int
	Connectors []routing.Connector
	Failover   bool
}

func (s *Service) resolve(table *routing.RoutingTable, r routing.Routable) (*RouteResult, error) {
	route, order := table.GetRouteFor(r)
	if route == nil {
		return nil, ErrNoRoute
	}
	res := &RouteResult{Route: route, Order: order, Failover: routing.IsFailover(route)}
	if res.Failover {
		res.Connectors = route.Connectors()
	} else {
		res.Connectors = []routing.Connector{routing.PickConnector(route, s.picker)}
	}
	return res, nil
}

// GetMTRoutes resolves an MT routable. Failover routes return all their
// connectors, other routes the single picked one.
func (s *Service) GetMTRoutes(r *routing.RoutableSubmitSm) (*RouteResult, error) {
	return s.resolve(s.mtTable, r)
}

// GetMORoutes resolves an MO routable the same way.
func (s *Service) GetMORoutes(r *routing.RoutableDeliverSm) (*RouteResult, error) {
	return s.resolve(s.moTable, r)
}

// ChargeUserForSubmitSm charges count messages of bill to uid. Both the
// balance and submit_sm_count are checked before anything is consumed.
func (s *Service) ChargeUserForSubmitSm(ctx context.Context, uid string, bill *routing.SubmitSmBill, count int) error {
	if bill == nil {
		return nil
	}
	if count < 1 {
		count = 1
	}
	ctx = logging.ContextWithUserID(ctx, uid)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		s.logger.ErrorContext(ctx, "User not found for charging")
		return fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}

	amount, _ := bill.GetAmount(routing.AmountSubmitSm)
	amount = amount.Mul(decimal.NewFromInt(int64(count)))
	action, _ := bill.GetAction(routing.ActionDecrementSubmitSmCount)
	decrement := int64(action * count)

	q := u.MtCredential.Quotas
	if amount.IsPositive() && q.Balance != nil && q.Balance.LessThan(amount) {
		return s.chargeRefused(ctx, fmt.Errorf("%w (%s/%s)", auth.ErrInsufficientBalance, q.Balance.String(), amount.String()))
	}
	if decrement > 0 && q.SubmitSmCount != nil && *q.SubmitSmCount < decrement {
		return s.chargeRefused(ctx, fmt.Errorf("%w (%d/%d)", auth.ErrInsufficientCount, *q.SubmitSmCount, decrement))
	}
	if err := u.MtCredential.ConsumeBalance(amount); err != nil {
		return s.chargeRefused(ctx, err)
	}
	if err := u.MtCredential.ConsumeSubmitSmCount(decrement); err != nil {
		return s.chargeRefused(ctx, err)
	}
	s.dirty(ScopeUsers)
	s.logger.InfoContext(ctx, "User charged for submit_sm",
		slog.String("bid", bill.BID),
		slog.String("amount", amount.String()),
		slog.Int64("submit_sm_count", decrement))
	return nil
}

func (s *Service) chargeRefused(ctx context.Context, err error) error {
	s.opts.Stats.API().Inc(stats.ChargingErrorCount)
	s.logger.InfoContext(ctx, "User charging refused", slog.Any("error", err))
	return err
}

// chargeSubmitSmResp consumes amount from a limited balance; unlimited balances are left untouched.
func (s *Service) chargeSubmitSmResp(ctx context.Context, uid string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}
	if err := u.MtCredential.ConsumeBalance(amount); err != nil {
		return err
	}
	if amount.IsPositive() && u.MtCredential.Quotas.Balance != nil {
		s.dirty(ScopeUsers)
	}
	return nil
}

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/thrillee/aegisrouter/internal/auth"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/store"
	"github.com/thrillee/aegisrouter/internal/workers"
)

// Persistence scopes. Stored documents are named router-<scope>.
const (
	ScopeAll      = "all"
	ScopeGroups   = "groups"
	ScopeUsers    = "users"
	ScopeMORoutes = "moroutes"
	ScopeMTRoutes = "mtroutes"
)

// scopes in load order: groups before the users referencing them.
var scopes = []string{ScopeGroups, ScopeUsers, ScopeMORoutes, ScopeMTRoutes}

func scopesOf(scope string) ([]string, error) {
	if scope == "" || scope == ScopeAll {
		return scopes, nil
	}
	for _, sc := range scopes {
		if sc == scope {
			return []string{sc}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
}

func documentName(scope string) string { return "router-" + scope }

// IsPersisted reports whether no scope changed since it was last persisted or loaded.
func (s *Service) IsPersisted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ok := range s.persisted {
		if !ok {
			return false
		}
	}
	return true
}

// Persist saves scope ("all" or one of groups, users, moroutes, mtroutes) under profile.
func (s *Service) Persist(ctx context.Context, profile, scope string) error {
	if s.opts.Backend == nil {
		return ErrNoBackend
	}
	list, err := scopesOf(scope)
	if err != nil {
		return err
	}
	ctx = logging.ContextWithProfile(ctx, profile)
	for _, sc := range list {
		if err := s.persistScope(ctx, profile, sc); err != nil {
			s.logger.ErrorContext(ctx, "Cannot persist router configuration", slog.String("scope", sc), slog.Any("error", err))
			return err
		}
	}
	return nil
}

func (s *Service) persistScope(ctx context.Context, profile, scope string) error {
	s.mu.RLock()
	doc, count := s.documentLocked(scope)
	data, err := store.Encode(doc)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := s.opts.Backend.Save(ctx, profile, documentName(scope), data); err != nil {
		return err
	}

	s.mu.Lock()
	s.persisted[scope] = true
	if scope == ScopeUsers {
		for _, u := range s.users {
			u.MtCredential.QuotasUpdated = false
		}
	}
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "Router configuration persisted", slog.String("scope", scope), slog.Int("count", count))
	return nil
}

func (s *Service) documentLocked(scope string) (any, int) {
	switch scope {
	case ScopeGroups:
		groups := make([]*auth.Group, 0, len(s.groups))
		for _, g := range s.groups {
			groups = append(groups, g)
		}
		sort.Slice(groups, func(i, j int) bool { return groups[i].GID < groups[j].GID })
		return groups, len(groups)
	case ScopeUsers:
		users := make([]*auth.User, 0, len(s.users))
		for _, u := range s.users {
			users = append(users, u)
		}
		sort.Slice(users, func(i, j int) bool { return users[i].UID < users[j].UID })
		return users, len(users)
	case ScopeMORoutes:
		specs := routeSpecs(s.moTable)
		return specs, len(specs)
	default:
		specs := routeSpecs(s.mtTable)
		return specs, len(specs)
	}
}

func routeSpecs(t *routing.RoutingTable) []routing.RouteSpec {
	entries := t.GetAll()
	specs := make([]routing.RouteSpec, 0, len(entries))
	for _, e := range entries {
		specs = append(specs, routing.SpecOfEntry(e))
	}
	return specs
}

// Load replaces scope with what was persisted under profile. Loading groups
// removes the current groups along with their users.
func (s *Service) Load(ctx context.Context, profile, scope string) error {
	if s.opts.Backend == nil {
		return ErrNoBackend
	}
	list, err := scopesOf(scope)
	if err != nil {
		return err
	}
	ctx = logging.ContextWithProfile(ctx, profile)
	for _, sc := range list {
		if err := s.loadScope(ctx, profile, sc); err != nil {
			s.logger.ErrorContext(ctx, "Cannot load router configuration", slog.String("scope", sc), slog.Any("error", err))
			return err
		}
	}
	return nil
}

func (s *Service) loadScope(ctx context.Context, profile, scope string) error {
	data, err := s.opts.Backend.Load(ctx, profile, documentName(scope))
	if err != nil {
		return err
	}
	switch scope {
	case ScopeGroups:
		var groups []*auth.Group
		if _, err := store.Decode(data, &groups); err != nil {
			return err
		}
		s.mu.Lock()
		for gid := range s.groups {
			s.removeGroupLocked(ctx, gid)
		}
		for _, g := range groups {
			if g == nil || auth.ValidateID("gid", g.GID) != nil {
				s.logger.WarnContext(ctx, "Skipping invalid persisted group")
				continue
			}
			s.groups[g.GID] = g
		}
		s.persisted[ScopeGroups] = true
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "Groups loaded", slog.Int("count", len(groups)))

	case ScopeUsers:
		var users []*auth.User
		if _, err := store.Decode(data, &users); err != nil {
			return err
		}
		s.mu.Lock()
		s.users = make(map[string]*auth.User, len(users))
		for _, u := range users {
			if u == nil || u.MtCredential == nil || u.MoCredential == nil {
				s.logger.WarnContext(ctx, "Skipping invalid persisted user")
				continue
			}
			if _, ok := s.groups[u.GID]; !ok {
				s.logger.WarnContext(ctx, "Skipping persisted user of an unknown group", slog.String("uid", u.UID), slog.String("gid", u.GID))
				continue
			}
			u.MtCredential.QuotasUpdated = false
			s.users[u.UID] = u
		}
		s.persisted[ScopeUsers] = true
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "Users loaded", slog.Int("count", len(users)))

	case ScopeMORoutes, ScopeMTRoutes:
		var specs []routing.RouteSpec
		if _, err := store.Decode(data, &specs); err != nil {
			return err
		}
		table := s.moTable
		if scope == ScopeMTRoutes {
			table = s.mtTable
		}
		if err := replaceRoutes(table, specs); err != nil {
			return err
		}
		s.mu.Lock()
		s.persisted[scope] = true
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "Routes loaded", slog.String("scope", scope), slog.Int("count", len(specs)))
	}
	return nil
}

// replaceRoutes builds every route before flushing table, so a bad document leaves it untouched.
func replaceRoutes(table *routing.RoutingTable, specs []routing.RouteSpec) error {
	routes := make([]routing.Route, len(specs))
	for i, spec := range specs {
		r, err := spec.Build()
		if err != nil {
			return fmt.Errorf("%w: route %d: %w", store.ErrDecode, spec.Order, err)
		}
		routes[i] = r
	}
	table.Flush()
	for i, r := range routes {
		if _, err := table.Add(r, specs[i].Order); err != nil {
			return fmt.Errorf("route %d: %w", specs[i].Order, err)
		}
	}
	return nil
}

// PersistQuotasJob persists groups and users whenever a user quota changed since the last run.
func (s *Service) PersistQuotasJob(profile string) workers.WorkerFunc {
	return func(ctx context.Context) (int, error) {
		s.mu.RLock()
		updated := false
		for _, u := range s.users {
			if u.MtCredential.QuotasUpdated {
				updated = true
				break
			}
		}
		s.mu.RUnlock()
		if !updated {
			return 0, workers.ErrNothingToDo
		}
		s.logger.InfoContext(ctx, "Detected a user quota update, persisting users and groups")
		if err := s.Persist(ctx, profile, ScopeGroups); err != nil {
			return 0, err
		}
		if err := s.Persist(ctx, profile, ScopeUsers); err != nil {
			return 0, err
		}
		return 2, nil
	}
}

// IsNotFound reports whether err is any of the router not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, routing.ErrRouteNotFound) || errors.Is(err, store.ErrNotFound)
}

// Package router owns users, groups and the MO/MT routing tables. Every
// mutation goes through a Service so lookups never observe partial state.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/thrillee/aegisrouter/internal/auth"
	"github.com/thrillee/aegisrouter/internal/config"
	"github.com/thrillee/aegisrouter/internal/logging"
	"github.com/thrillee/aegisrouter/internal/queue"
	"github.com/thrillee/aegisrouter/internal/routing"
	"github.com/thrillee/aegisrouter/internal/stats"
	"github.com/thrillee/aegisrouter/internal/store"
)

// ConnectorRegistry tells whether an SMPP client connector exists.
type ConnectorRegistry interface {
	Has(cid string) bool
}

// Options holds the dependencies of a Service.
type Options struct {
	Config     config.RouterConfig
	Broker     queue.Broker
	Backend    store.Backend
	Stats      *stats.Registry
	Connectors ConnectorRegistry
	Logger     *slog.Logger
}

// Service is the single owner of the routing state.
type Service struct {
	opts   Options
	logger *slog.Logger
	picker routing.Picker

	mu        sync.RWMutex
	users     map[string]*auth.User
	groups    map[string]*auth.Group
	moTable   *routing.RoutingTable
	mtTable   *routing.RoutingTable
	persisted map[string]bool

	consumerMu sync.Mutex
	consumers  []*consumer
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewRegistry()
	}
	picker := routing.PickerFor(opts.Config.RoundRobinPolicy)
	s := &Service{
		opts:    opts,
		logger:  opts.Logger,
		picker:  picker,
		users:   make(map[string]*auth.User),
		groups:  make(map[string]*auth.Group),
		moTable: routing.NewMORoutingTable(picker),
		mtTable: routing.NewMTRoutingTable(picker),
		persisted: map[string]bool{
			ScopeGroups: true, ScopeUsers: true, ScopeMORoutes: true, ScopeMTRoutes: true,
		},
	}
	s.logger.Info("Router configured", slog.String("rr_policy", picker.Name()))
	return s
}

// MORoutingTable and MTRoutingTable expose the tables for lookups only.
func (s *Service) MORoutingTable() *routing.RoutingTable { return s.moTable }
func (s *Service) MTRoutingTable() *routing.RoutingTable { return s.mtTable }

func (s *Service) dirty(scope string) {
	s.persisted[scope] = false
}

// ============================================================================
// Users
// ============================================================================

// UserAdd adds user, replacing any user with the same uid or username.
// The user's group must exist.
func (s *Service) UserAdd(ctx context.Context, user *auth.User) error {
	if user == nil {
		return fmt.Errorf("%w: nil user", auth.ErrInvalidParam)
	}
	ctx = logging.ContextWithUserID(ctx, user.UID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[user.GID]; !ok {
		s.logger.WarnContext(ctx, "Cannot add user, group not found", slog.String("gid", user.GID))
		return fmt.Errorf("%w: %s", ErrGroupNotFound, user.GID)
	}
	for uid, u := range s.users {
		if uid == user.UID || u.Username == user.Username {
			s.logger.WarnContext(ctx, "User already exists, replacing it", slog.String("replaced_uid", uid))
			delete(s.users, uid)
			break
		}
	}
	s.users[user.UID] = user.Clone()
	s.dirty(ScopeUsers)
	s.logger.InfoContext(ctx, "User added", slog.String("username", user.Username), slog.String("gid", user.GID))
	return nil
}

// UserGet returns a copy of the user uid.
func (s *Service) UserGet(uid string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}
	return u.Clone(), nil
}

// UserAuthenticate returns a copy of the user matching username and password
// when both the user and its group are enabled.
func (s *Service) UserAuthenticate(ctx context.Context, username, password string) (*auth.User, error) {
	s.mu.RLock()
	var found *auth.User
	for _, u := range s.users {
		if u.Username == username {
			found = u
			break
		}
	}
	var group *auth.Group
	if found != nil {
		group = s.groups[found.GID]
	}
	var user *auth.User
	if found != nil {
		user = found.Clone()
	}
	s.mu.RUnlock()

	fail := func(reason string) (*auth.User, error) {
		s.opts.Stats.API().Inc(stats.AuthErrorCount)
		s.logger.InfoContext(ctx, "Authentication refused", slog.String("username", username), slog.String("reason", reason))
		return nil, fmt.Errorf("%w: %s", ErrAuthentication, reason)
	}
	switch {
	case user == nil || !user.CheckPassword(password):
		return fail("bad credentials")
	case group != nil && !group.Enabled:
		return fail("group is disabled")
	case !user.Enabled:
		return fail("user is disabled")
	}
	return user, nil
}

// UserUpdateQuota adds difference to a counting quota of the user's mt or mo credential.
func (s *Service) UserUpdateQuota(ctx context.Context, uid, cred, quota, difference string) error {
	ctx = logging.ContextWithUserID(ctx, uid)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}

	var err error
	switch cred {
	case "mt", "mt_messaging_cred":
		err = u.MtCredential.UpdateQuota(quota, difference)
	case "mo", "mo_messaging_cred":
		err = u.MoCredential.UpdateQuota(quota, difference)
	default:
		err = fmt.Errorf("%w: %s", ErrInvalidCredential, cred)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "Cannot update user quota", slog.String("quota", quota), slog.Any("error", err))
		return err
	}
	s.dirty(ScopeUsers)
	s.logger.InfoContext(ctx, "User quota updated", slog.String("cred", cred), slog.String("quota", quota), slog.String("difference", difference))
	return nil
}

func (s *Service) UserEnable(ctx context.Context, uid string) error {
	return s.setUserEnabled(ctx, uid, true)
}

func (s *Service) UserDisable(ctx context.Context, uid string) error {
	return s.setUserEnabled(ctx, uid, false)
}

func (s *Service) setUserEnabled(ctx context.Context, uid string, enabled bool) error {
	ctx = logging.ContextWithUserID(ctx, uid)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		s.logger.WarnContext(ctx, "User not found", slog.Bool("enable", enabled))
		return fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}
	u.Enabled = enabled
	s.dirty(ScopeUsers)
	s.logger.InfoContext(ctx, "User state changed", slog.Bool("enabled", enabled))
	return nil
}

func (s *Service) UserRemove(ctx context.Context, uid string) error {
	ctx = logging.ContextWithUserID(ctx, uid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[uid]; !ok {
		s.logger.WarnContext(ctx, "User not found, not removing it")
		return fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}
	delete(s.users, uid)
	s.dirty(ScopeUsers)
	s.logger.InfoContext(ctx, "User removed")
	return nil
}

func (s *Service) UserRemoveAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.users)
	s.users = make(map[string]*auth.User)
	s.dirty(ScopeUsers)
	s.logger.InfoContext(ctx, "All users removed", slog.Int("count", n))
}

// UserGetAll returns copies of the users of gid, or of every user when gid is empty, sorted by uid.
func (s *Service) UserGetAll(gid string) []*auth.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.User, 0, len(s.users))
	for _, u := range s.users {
		if gid == "" || u.GID == gid {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// ============================================================================
// Groups
// ============================================================================

// GroupAdd adds group, replacing any group with the same gid. Users of a replaced group are kept.
func (s *Service) GroupAdd(ctx context.Context, group *auth.Group) error {
	if group == nil {
		return fmt.Errorf("%w: nil group", auth.ErrInvalidParam)
	}
	ctx = logging.ContextWithGroupID(ctx, group.GID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.GID]; ok {
		s.logger.WarnContext(ctx, "Group already exists, replacing it")
	}
	s.groups[group.GID] = group.Clone()
	s.dirty(ScopeGroups)
	s.logger.InfoContext(ctx, "Group added")
	return nil
}

func (s *Service) GroupEnable(ctx context.Context, gid string) error {
	return s.setGroupEnabled(ctx, gid, true)
}

func (s *Service) GroupDisable(ctx context.Context, gid string) error {
	return s.setGroupEnabled(ctx, gid, false)
}

func (s *Service) setGroupEnabled(ctx context.Context, gid string, enabled bool) error {
	ctx = logging.ContextWithGroupID(ctx, gid)
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[gid]
	if !ok {
		s.logger.WarnContext(ctx, "Group not found", slog.Bool("enable", enabled))
		return fmt.Errorf("%w: %s", ErrGroupNotFound, gid)
	}
	g.Enabled = enabled
	s.dirty(ScopeGroups)
	s.logger.InfoContext(ctx, "Group state changed", slog.Bool("enabled", enabled))
	return nil
}

// GroupRemove removes gid and every user of it under the same lock.
func (s *Service) GroupRemove(ctx context.Context, gid string) error {
	ctx = logging.ContextWithGroupID(ctx, gid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[gid]; !ok {
		s.logger.WarnContext(ctx, "Group not found, not removing it")
		return fmt.Errorf("%w: %s", ErrGroupNotFound, gid)
	}
	s.removeGroupLocked(ctx, gid)
	s.logger.InfoContext(ctx, "Group removed")
	return nil
}

func (s *Service) removeGroupLocked(ctx context.Context, gid string) {
	for uid, u := range s.users {
		if u.GID == gid {
			delete(s.users, uid)
			s.dirty(ScopeUsers)
			s.logger.InfoContext(ctx, "User removed with its group", slog.String("uid", uid))
		}
	}
	delete(s.groups, gid)
	s.dirty(ScopeGroups)
}

func (s *Service) GroupRemoveAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.groups)
	for gid := range s.groups {
		s.removeGroupLocked(logging.ContextWithGroupID(ctx, gid), gid)
	}
	s.dirty(ScopeGroups)
	s.logger.InfoContext(ctx, "All groups removed", slog.Int("count", n))
}

// GroupGet returns a copy of the group gid.
func (s *Service) GroupGet(gid string) (*auth.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[gid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, gid)
	}
	return g.Clone(), nil
}

func (s *Service) GroupGetAll() []*auth.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GID < out[j].GID })
	return out
}

package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jmcleod/palisade/internal/util"
	"github.com/jmcleod/palisade/storage"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrUnknownGroup is returned when a referenced admin group does not
	// exist. During evaluation it is logged and treated as Deny, never
	// surfaced as a failure of the check itself.
	ErrUnknownGroup = errors.New("unknown admin group")

	// ErrGroupExists is returned when creating a group whose name is taken.
	ErrGroupExists = errors.New("admin group already exists")

	// ErrNotAuthorized is returned when the calling admin is not allowed to
	// perform the requested administrative change.
	ErrNotAuthorized = errors.New("administrator is not authorized")
)

// ResourceAdmins gates administrative operations on groups themselves
// (create/delete group, membership changes).
const ResourceAdmins = "/admins"

// snapshot is an immutable view of all admin groups. Readers load it with a
// single atomic pointer read; mutations build a fresh snapshot and swap it.
type snapshot struct {
	groups map[string]*AdminGroup
}

// Engine evaluates and administers access rules. Reads are lock-free
// against an atomically swapped snapshot; mutations serialize on a mutex,
// persist through the repository first, and only then publish the new
// snapshot. A failed persistence write leaves the visible rule set
// untouched.
type Engine struct {
	repo   storage.Repository
	logger *slog.Logger

	superAdmins map[string]bool

	mu   sync.Mutex // serializes mutations
	snap atomic.Pointer[snapshot]
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger.With("component", "authz") }
}

// WithSuperAdmins marks identities that bypass rule evaluation entirely.
// Used to bootstrap a fresh installation that has no groups yet.
func WithSuperAdmins(admins ...string) EngineOption {
	return func(e *Engine) {
		for _, a := range admins {
			e.superAdmins[util.Normalize(a)] = true
		}
	}
}

// NewEngine returns an Engine backed by the given repository. Call Load to
// populate it from storage before serving authorization checks.
func NewEngine(repo storage.Repository, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:        repo,
		logger:      slog.Default().With("component", "authz"),
		superAdmins: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.snap.Store(&snapshot{groups: make(map[string]*AdminGroup)})
	return e
}

// Load reads every persisted admin group and publishes the initial snapshot.
func (e *Engine) Load(ctx context.Context) error {
	names, err := e.repo.List(ctx, storage.ScopeAuthz, storage.RecordTypeAdminGroup)
	if err != nil {
		return fmt.Errorf("listing admin groups: %w", err)
	}
	groups := make(map[string]*AdminGroup, len(names))
	for _, name := range names {
		data, err := e.repo.Get(ctx, storage.ScopeAuthz, storage.RecordTypeAdminGroup, name)
		if err != nil {
			return fmt.Errorf("loading admin group %q: %w", name, err)
		}
		var g AdminGroup
		if err := json.Unmarshal(data, &g); err != nil {
			return fmt.Errorf("decoding admin group %q: %w", name, err)
		}
		groups[name] = &g
	}
	e.mu.Lock()
	e.snap.Store(&snapshot{groups: groups})
	e.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// Authorize evaluates admin against resourcePath over every group the admin
// belongs to. The result is a Decision value; a Deny is not an error.
func (e *Engine) Authorize(admin, resourcePath string) Decision {
	admin = util.Normalize(admin)
	if e.superAdmins[admin] {
		return DecisionAllow
	}
	resource, err := NormalizeResource(resourcePath)
	if err != nil {
		e.logger.Warn("rejecting malformed resource path", "resource", resourcePath, "error", err)
		return DecisionDeny
	}
	snap := e.snap.Load()
	groups := make([]*AdminGroup, 0, len(snap.groups))
	for _, g := range snap.groups {
		groups = append(groups, g)
	}
	return Evaluate(admin, resource, groups)
}

// AuthorizeVia evaluates admin against resourcePath considering only the
// named groups. A name that no longer resolves is logged and contributes
// nothing (fail-closed), matching the UnknownGroup semantics.
func (e *Engine) AuthorizeVia(admin, resourcePath string, groupNames []string) Decision {
	admin = util.Normalize(admin)
	if e.superAdmins[admin] {
		return DecisionAllow
	}
	resource, err := NormalizeResource(resourcePath)
	if err != nil {
		e.logger.Warn("rejecting malformed resource path", "resource", resourcePath, "error", err)
		return DecisionDeny
	}
	snap := e.snap.Load()
	groups := make([]*AdminGroup, 0, len(groupNames))
	for _, name := range groupNames {
		g, ok := snap.groups[util.Normalize(name)]
		if !ok {
			e.logger.Warn("authorization check referenced an unknown group",
				"group", name, "admin", admin, "error", ErrUnknownGroup)
			continue
		}
		groups = append(groups, g)
	}
	return Evaluate(admin, resource, groups)
}

// GroupNames returns the names of all groups, sorted.
func (e *Engine) GroupNames() []string {
	snap := e.snap.Load()
	names := make([]string, 0, len(snap.groups))
	for name := range snap.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListAuthorizedRules returns the group's rules restricted to resources the
// calling admin is itself authorized for: an admin can only view (and
// therefore grant) access it already holds.
func (e *Engine) ListAuthorizedRules(admin, groupName string) ([]AccessRule, error) {
	snap := e.snap.Load()
	g, ok := snap.groups[util.Normalize(groupName)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", groupName, ErrUnknownGroup)
	}
	var rules []AccessRule
	for _, rule := range g.Rules {
		if e.Authorize(admin, rule.Resource).Allowed() {
			rules = append(rules, rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Resource < rules[j].Resource })
	return rules, nil
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// CreateGroup creates an empty admin group. Gated on ResourceAdmins.
func (e *Engine) CreateGroup(ctx context.Context, admin, name string) error {
	if !e.Authorize(admin, ResourceAdmins).Allowed() {
		return fmt.Errorf("creating group %q: %w", name, ErrNotAuthorized)
	}
	name = util.Normalize(name)

	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.snap.Load()
	if _, ok := snap.groups[name]; ok {
		return fmt.Errorf("%q: %w", name, ErrGroupExists)
	}
	g := &AdminGroup{
		Name:    name,
		Rules:   make(map[string]AccessRule),
		Members: make(map[string]bool),
	}
	return e.persistAndSwapLocked(ctx, snap, g)
}

// DeleteGroup removes an admin group. Gated on ResourceAdmins.
func (e *Engine) DeleteGroup(ctx context.Context, admin, name string) error {
	if !e.Authorize(admin, ResourceAdmins).Allowed() {
		return fmt.Errorf("deleting group %q: %w", name, ErrNotAuthorized)
	}
	name = util.Normalize(name)

	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.snap.Load()
	if _, ok := snap.groups[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownGroup)
	}
	if err := e.repo.Delete(ctx, storage.ScopeAuthz, storage.RecordTypeAdminGroup, name); err != nil {
		return fmt.Errorf("deleting admin group %q: %w", name, err)
	}
	groups := cloneGroups(snap.groups)
	delete(groups, name)
	e.snap.Store(&snapshot{groups: groups})
	return nil
}

// AddMember adds an administrator identity to a group. Gated on
// ResourceAdmins.
func (e *Engine) AddMember(ctx context.Context, admin, groupName, member string) error {
	if !e.Authorize(admin, ResourceAdmins).Allowed() {
		return fmt.Errorf("adding member to %q: %w", groupName, ErrNotAuthorized)
	}
	return e.mutateGroup(ctx, groupName, func(g *AdminGroup) error {
		g.Members[util.Normalize(member)] = true
		return nil
	})
}

// RemoveMember removes an administrator identity from a group. Gated on
// ResourceAdmins.
func (e *Engine) RemoveMember(ctx context.Context, admin, groupName, member string) error {
	if !e.Authorize(admin, ResourceAdmins).Allowed() {
		return fmt.Errorf("removing member from %q: %w", groupName, ErrNotAuthorized)
	}
	return e.mutateGroup(ctx, groupName, func(g *AdminGroup) error {
		delete(g.Members, util.Normalize(member))
		return nil
	})
}

// AddRules adds (or replaces) rules in a group. The calling admin must
// itself be authorized for every rule's resource: access can only be
// granted by someone who holds it. A NOT_USED rule is stored as a removal.
func (e *Engine) AddRules(ctx context.Context, admin, groupName string, rules []AccessRule) error {
	normalized := make([]AccessRule, 0, len(rules))
	for _, rule := range rules {
		resource, err := NormalizeResource(rule.Resource)
		if err != nil {
			return err
		}
		if !e.Authorize(admin, resource).Allowed() {
			return fmt.Errorf("granting %s on %s: %w", rule.State, resource, ErrNotAuthorized)
		}
		rule.Resource = resource
		normalized = append(normalized, rule)
	}
	return e.mutateGroup(ctx, groupName, func(g *AdminGroup) error {
		for _, rule := range normalized {
			if rule.State == NotUsed {
				delete(g.Rules, rule.Resource)
				continue
			}
			g.Rules[rule.Resource] = rule
		}
		return nil
	})
}

// RemoveRules removes rules by resource from a group, gated like AddRules.
func (e *Engine) RemoveRules(ctx context.Context, admin, groupName string, resources []string) error {
	normalized := make([]string, 0, len(resources))
	for _, r := range resources {
		resource, err := NormalizeResource(r)
		if err != nil {
			return err
		}
		if !e.Authorize(admin, resource).Allowed() {
			return fmt.Errorf("revoking rule on %s: %w", resource, ErrNotAuthorized)
		}
		normalized = append(normalized, resource)
	}
	return e.mutateGroup(ctx, groupName, func(g *AdminGroup) error {
		for _, resource := range normalized {
			delete(g.Rules, resource)
		}
		return nil
	})
}

// mutateGroup applies fn to a deep copy of the named group, persists the
// result, and swaps in a new snapshot. Concurrent readers keep seeing the
// previous snapshot until the swap.
func (e *Engine) mutateGroup(ctx context.Context, groupName string, fn func(*AdminGroup) error) error {
	name := util.Normalize(groupName)

	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.snap.Load()
	g, ok := snap.groups[name]
	if !ok {
		return fmt.Errorf("%q: %w", groupName, ErrUnknownGroup)
	}
	cp := g.clone()
	if err := fn(cp); err != nil {
		return err
	}
	return e.persistAndSwapLocked(ctx, snap, cp)
}

// persistAndSwapLocked writes the group and publishes a snapshot containing
// it. Callers hold e.mu.
func (e *Engine) persistAndSwapLocked(ctx context.Context, snap *snapshot, g *AdminGroup) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding admin group %q: %w", g.Name, err)
	}
	if err := e.repo.Put(ctx, storage.ScopeAuthz, storage.RecordTypeAdminGroup, g.Name, data); err != nil {
		return fmt.Errorf("storing admin group %q: %w", g.Name, err)
	}
	groups := cloneGroups(snap.groups)
	groups[g.Name] = g
	e.snap.Store(&snapshot{groups: groups})
	return nil
}

func cloneGroups(groups map[string]*AdminGroup) map[string]*AdminGroup {
	cp := make(map[string]*AdminGroup, len(groups)+1)
	for k, v := range groups {
		cp[k] = v
	}
	return cp
}

package authz

import (
	"context"
	"sync"

	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/telemetry"
)

// Resolver computes effective permissions for users against a set of
// configured groups. Resolved permission sets are not cached: every Resolve
// call walks the inheritance closure of each requested group again.
type Resolver struct {
	logger telemetry.Logger

	mu         sync.Mutex
	warnedOnce map[string]struct{} // dedups "unmapped external group" log lines per provider+name
}

// NewResolver constructs a Resolver.
func NewResolver(logger telemetry.Logger) *Resolver {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Resolver{logger: logger, warnedOnce: map[string]struct{}{}}
}

// MapExternalGroups maps a raw external group list to internal group ids. For
// each external name, every internal group whose mappings contains it is
// included (union). Unmapped names are logged once. An empty result falls back
// to the provider's configured defaultGroups, or [anonymous].
func (r *Resolver) MapExternalGroups(ctx context.Context, groups map[string]config.Group, provider string, external []string, defaultGroups map[string][]string) []string {
	seen := map[string]struct{}{}
	var mapped []string
	for _, ext := range external {
		found := false
		for _, g := range groups {
			for _, m := range g.Mappings {
				if m == ext {
					if _, ok := seen[g.ID]; !ok {
						seen[g.ID] = struct{}{}
						mapped = append(mapped, g.ID)
					}
					found = true
				}
			}
		}
		if !found {
			r.warnUnmapped(ctx, provider, ext)
		}
	}
	if len(mapped) > 0 {
		return mapped
	}
	if dg, ok := defaultGroups[provider]; ok && len(dg) > 0 {
		return dg
	}
	if dg, ok := defaultGroups["default"]; ok && len(dg) > 0 {
		return dg
	}
	return []string{AnonymousGroupID}
}

func (r *Resolver) warnUnmapped(ctx context.Context, provider, name string) {
	key := provider + "\x00" + name
	r.mu.Lock()
	_, already := r.warnedOnce[key]
	if !already {
		r.warnedOnce[key] = struct{}{}
	}
	r.mu.Unlock()
	if !already {
		r.logger.Warn(ctx, "unmapped external group; add it to a group's mappings list",
			"provider", provider, "externalGroup", name)
	}
}

// Resolve computes the effective permissions for a user's internal group ids
// by walking the inheritance closure of each and merging the results.
func (r *Resolver) Resolve(ctx context.Context, groups map[string]config.Group, groupIDs []string) EffectivePermissions {
	var apps, prompts, models []string
	var allowAllApps, allowAllPrompts, allowAllModels, admin bool

	visitedGlobal := map[string]struct{}{}
	for _, gid := range groupIDs {
		closure := r.closure(ctx, groups, gid)
		for _, cgid := range closure {
			if _, ok := visitedGlobal[cgid]; ok {
				continue
			}
			visitedGlobal[cgid] = struct{}{}
			g, ok := groups[cgid]
			if !ok {
				continue
			}
			if hasStar(g.Permissions.Apps) {
				allowAllApps = true
			} else {
				apps = append(apps, g.Permissions.Apps...)
			}
			if hasStar(g.Permissions.Prompts) {
				allowAllPrompts = true
			} else {
				prompts = append(prompts, g.Permissions.Prompts...)
			}
			if hasStar(g.Permissions.Models) {
				allowAllModels = true
			} else {
				models = append(models, g.Permissions.Models...)
			}
			if g.Permissions.AdminAccess {
				admin = true
			}
		}
	}

	return EffectivePermissions{
		Apps:        toSet(allowAllApps, apps),
		Prompts:     toSet(allowAllPrompts, prompts),
		Models:      toSet(allowAllModels, models),
		AdminAccess: admin,
	}
}

// closure returns the transitive closure of group ids reachable from root via
// Inherits edges, computed via DFS with a per-traversal visited set so cyclic
// graphs still terminate in O(|groups|). When a cycle is detected, the repeat
// edge is dropped and logged once.
func (r *Resolver) closure(ctx context.Context, groups map[string]config.Group, root string) []string {
	visited := map[string]struct{}{}
	var order []string
	var visit func(id string, path map[string]struct{})
	visit = func(id string, path map[string]struct{}) {
		if _, onPath := path[id]; onPath {
			r.logger.Warn(ctx, "cyclic group inheritance detected; dropping repeat edge", "group", id)
			return
		}
		if _, ok := visited[id]; ok {
			return
		}
		g, ok := groups[id]
		if !ok {
			return
		}
		path[id] = struct{}{}
		visited[id] = struct{}{}
		order = append(order, id)
		for _, parent := range g.Inherits {
			visit(parent, path)
		}
		delete(path, id)
	}
	visit(root, map[string]struct{}{})
	return order
}

func hasStar(list []string) bool {
	for _, v := range list {
		if v == "*" {
			return true
		}
	}
	return false
}

func toSet(allowAll bool, ids []string) PermissionSet {
	if allowAll {
		return PermissionSet{AllowAll: true}
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return PermissionSet{IDs: set}
}

// ToResourceFilter converts a PermissionSet into a config.ResourceFilter for
// consumption by the Cache's Get methods.
func ToResourceFilter(p PermissionSet) config.ResourceFilter {
	if p.AllowAll {
		return config.AllowAllFilter()
	}
	ids := make([]string, 0, len(p.IDs))
	for id := range p.IDs {
		ids = append(ids, id)
	}
	return config.NewResourceFilter(ids)
}

// ViewFor builds a config.UserView for the given user by mapping external
// groups (if unmapped) and resolving effective permissions, ready to pass to
// Cache.Apps/Models/etc.
func (r *Resolver) ViewFor(ctx context.Context, groups map[string]config.Group, provider string, user *User, defaultGroups map[string][]string) (config.UserView, EffectivePermissions) {
	groupIDs := user.Groups
	if len(groupIDs) == 0 {
		groupIDs = r.MapExternalGroups(ctx, groups, provider, user.ExtractedGroups, defaultGroups)
	}
	eff := r.Resolve(ctx, groups, groupIDs)
	return config.UserView{
		Key:         user.ID,
		Apps:        ToResourceFilter(eff.Apps),
		Models:      ToResourceFilter(eff.Models),
		Prompts:     ToResourceFilter(eff.Prompts),
		AdminAccess: eff.AdminAccess,
	}, eff
}

// AnonymousUser constructs the unauthenticated User record used when no
// identity provider session is present.
func AnonymousUser() *User {
	return &User{ID: "anonymous", Groups: []string{AnonymousGroupID}, Authenticated: false}
}

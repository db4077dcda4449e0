package config

// ResourceFilter is the result of authorization resolution for a
// single resource type (apps, models, prompts). It lives in this package
// (rather than internal/authz) so the cache can filter resources without
// importing the resolver — authz depends on config, not the reverse.
type ResourceFilter struct {
	AllowAll bool
	Allowed  map[string]struct{}
}

// AllowAllFilter permits every resource id.
func AllowAllFilter() ResourceFilter {
	return ResourceFilter{AllowAll: true}
}

// NewResourceFilter builds a filter from an explicit permission list. A
// single "*" entry is equivalent to AllowAllFilter.
func NewResourceFilter(ids []string) ResourceFilter {
	for _, id := range ids {
		if id == "*" {
			return AllowAllFilter()
		}
	}
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	return ResourceFilter{Allowed: allowed}
}

// Permits reports whether id is included in the filter.
func (f ResourceFilter) Permits(id string) bool {
	if f.AllowAll {
		return true
	}
	_, ok := f.Allowed[id]
	return ok
}

// UserView is the per-request authorization context the cache uses to
// compute filtered, ETag-stable views.
type UserView struct {
	// Key uniquely identifies this permission view for logging/metrics; it is
	// never used as part of the returned content, only to annotate logs.
	Key string
	// Apps, Models, Prompts are the effective per-resource-type filters.
	Apps    ResourceFilter
	Models  ResourceFilter
	Prompts ResourceFilter
	// AdminAccess grants access to admin-only resources (ui/platform secrets).
	AdminAccess bool
}

// AnonymousView returns a UserView with a filter appropriate for the
// "anonymous" group fallback.
func AnonymousView(filter ResourceFilter) UserView {
	return UserView{Key: "anonymous", Apps: filter, Models: filter, Prompts: filter}
}

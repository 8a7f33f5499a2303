// Package route holds the ordered set of routes registered by the driver.
package route

import (
	"github.com/netstub/netstub/pkg/api"
	"github.com/netstub/netstub/pkg/matcher"
)

// Route is one registered interception rule. A non-nil StaticResponse
// makes the route static and HandlerID is ignored. Routes are immutable
// once added; identity is the pointer.
type Route struct {
	Matcher        matcher.RouteMatcher
	HandlerID      string
	StaticResponse *api.StaticResponse
}

func (r *Route) IsStatic() bool {
	return r.StaticResponse != nil
}

// Registry is an ordered, append-only list of routes. It is not safe for
// concurrent use; callers serialize access.
type Registry struct {
	routes []*Route
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(rt *Route) {
	r.routes = append(r.routes, rt)
}

func (r *Registry) Len() int {
	return len(r.routes)
}

// Routes returns the registered routes in registration order.
func (r *Registry) Routes() []*Route {
	return append([]*Route(nil), r.routes...)
}

// FindFirstMatch returns the earliest route matching m, or nil.
func (r *Registry) FindFirstMatch(m matcher.Matchable) *Route {
	return r.findFrom(0, m)
}

// FindFirstMatchAfter returns the earliest route after prev that matches m.
// When prev is not registered the scan starts from the first route.
func (r *Registry) FindFirstMatchAfter(m matcher.Matchable, prev *Route) *Route {
	start := 0
	for i, rt := range r.routes {
		if rt == prev {
			start = i + 1
			break
		}
	}
	return r.findFrom(start, m)
}

// FindByHandlerID returns the first route registered with handlerID.
func (r *Registry) FindByHandlerID(handlerID string) *Route {
	if handlerID == "" {
		return nil
	}
	for _, rt := range r.routes {
		if rt.HandlerID == handlerID {
			return rt
		}
	}
	return nil
}

func (r *Registry) Clear() {
	r.routes = nil
}

func (r *Registry) findFrom(start int, m matcher.Matchable) *Route {
	for _, rt := range r.routes[start:] {
		if rt.Matcher.Matches(m) {
			return rt
		}
	}
	return nil
}

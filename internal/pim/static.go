package pim

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
)

// Sentinel errors for static multicast routes.
var (
	// ErrStaticRouteExists indicates a route with the same interfaces,
	// group and source is already configured.
	ErrStaticRouteExists = errors.New("static mroute already configured")

	// ErrStaticRouteNotFound indicates the route is not configured.
	ErrStaticRouteNotFound = errors.New("static mroute not configured")

	// ErrInvalidStaticRoute indicates a malformed route.
	ErrInvalidStaticRoute = errors.New("invalid static mroute")
)

// StaticRoute forwards (Source, Group) traffic arriving on IIF out of OIF.
// An invalid Source means any source.
type StaticRoute struct {
	IIF    string
	OIF    string
	Group  netip.Addr
	Source netip.Addr
}

// String returns "(S,G) iif -> oif".
func (r StaticRoute) String() string {
	src := "*"
	if r.Source.IsValid() {
		src = r.Source.String()
	}
	return fmt.Sprintf("(%s,%s) %s -> %s", src, r.Group, r.IIF, r.OIF)
}

func (r StaticRoute) validate() error {
	switch {
	case r.IIF == "" || r.OIF == "":
		return fmt.Errorf("%s: missing interface: %w", r, ErrInvalidStaticRoute)
	case r.IIF == r.OIF:
		return fmt.Errorf("%s: iif equals oif: %w", r, ErrInvalidStaticRoute)
	case !r.Group.IsValid() || !r.Group.IsMulticast():
		return fmt.Errorf("%s: group is not multicast: %w", r, ErrInvalidStaticRoute)
	case r.Source.IsValid() && r.Source.Is4() != r.Group.Is4():
		return fmt.Errorf("%s: source and group families differ: %w", r, ErrInvalidStaticRoute)
	}
	return nil
}

// StaticRoutes is the ordered list of static multicast routes of an
// instance.
type StaticRoutes struct {
	routes []StaticRoute
}

// Add appends r.
func (s *StaticRoutes) Add(r StaticRoute) error {
	r.Group, r.Source = r.Group.Unmap(), r.Source.Unmap()
	if err := r.validate(); err != nil {
		return err
	}
	if slices.Contains(s.routes, r) {
		return fmt.Errorf("add %s: %w", r, ErrStaticRouteExists)
	}
	s.routes = append(s.routes, r)
	return nil
}

// Remove deletes r.
func (s *StaticRoutes) Remove(r StaticRoute) error {
	r.Group, r.Source = r.Group.Unmap(), r.Source.Unmap()
	i := slices.Index(s.routes, r)
	if i < 0 {
		return fmt.Errorf("remove %s: %w", r, ErrStaticRouteNotFound)
	}
	s.routes = slices.Delete(s.routes, i, i+1)
	return nil
}

// Routes returns the routes in configuration order.
func (s *StaticRoutes) Routes() []StaticRoute { return slices.Clone(s.routes) }

// Len returns the number of routes.
func (s *StaticRoutes) Len() int { return len(s.routes) }

// Clear deletes every route.
func (s *StaticRoutes) Clear() { s.routes = nil }

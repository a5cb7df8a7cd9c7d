package workflow

import (
	"errors"
	"fmt"

	"github.com/szaher/designs/listingmock/internal/credstore"
)

// LoginPath is where navigation lands when a session is required but absent.
const LoginPath = "/login"

// ErrUnknownRoute is returned by Resolve for paths with no route.
var ErrUnknownRoute = errors.New("unknown route")

// Route is one navigation entry.
type Route struct {
	Path            string
	RequiresSession bool
	Redirect        string
}

// DefaultRoutes are the views of the listing flow.
var DefaultRoutes = []Route{
	{Path: LoginPath},
	{Path: "/recognize", RequiresSession: true},
	{Path: "/aspects", RequiresSession: true},
	{Path: "/publish", RequiresSession: true},
	{Path: "/", Redirect: LoginPath},
}

// Decide reports whether navigation may proceed: a route that requires a
// session is only entered when a credential is present. Expiry is not
// considered.
func Decide(requiresSession, hasCredential bool) bool {
	return !requiresSession || hasCredential
}

// Guard applies Decide to a route table using a credential store.
type Guard struct {
	routes map[string]Route
	creds  credstore.Store
}

// NewGuard creates a guard over routes.
func NewGuard(routes []Route, creds credstore.Store) *Guard {
	g := &Guard{routes: make(map[string]Route, len(routes)), creds: creds}
	for _, r := range routes {
		g.routes[r.Path] = r
	}
	return g
}

// Resolve returns the path navigation to path ends up on, after following
// redirects and applying the session check.
func (g *Guard) Resolve(path string) (string, error) {
	seen := map[string]bool{}
	for {
		r, ok := g.routes[path]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownRoute, path)
		}
		if r.Redirect == "" {
			break
		}
		if seen[path] {
			return "", fmt.Errorf("redirect loop at %s", path)
		}
		seen[path] = true
		path = r.Redirect
	}

	if !Decide(g.routes[path].RequiresSession, credstore.Present(g.creds)) {
		return LoginPath, nil
	}
	return path, nil
}

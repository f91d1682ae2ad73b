package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
)

type route struct {
	prefix string
	target *url.URL
	proxy  *httputil.ReverseProxy
}

// Proxy forwards requests to the backend owning the longest matching path
// prefix. Paths are forwarded unchanged.
type Proxy struct {
	routes []route
	logger *slog.Logger
}

// NewProxy builds a proxy from a prefix → backend URL map.
func NewProxy(routes map[string]string, logger *slog.Logger) (*Proxy, error) {
	p := &Proxy{logger: logger}

	seen := make(map[string]bool, len(routes))
	for key, raw := range routes {
		prefix := normalizePrefix(key)
		if prefix == "" {
			return nil, fmt.Errorf("route prefix %q must start with / and not be the root", key)
		}
		if seen[prefix] {
			return nil, fmt.Errorf("route prefix %s configured twice", prefix)
		}
		seen[prefix] = true

		target, err := url.Parse(raw)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("route %s: invalid backend url %q", prefix, raw)
		}

		rp := httputil.NewSingleHostReverseProxy(target)
		rp.ErrorHandler = p.backendError(prefix)
		p.routes = append(p.routes, route{prefix: prefix, target: target, proxy: rp})
	}

	sort.Slice(p.routes, func(i, j int) bool {
		return len(p.routes[i].prefix) > len(p.routes[j].prefix)
	})
	return p, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if !strings.HasPrefix(prefix, "/") {
		return ""
	}
	return prefix
}

// Match returns the prefix of the route serving path.
func (p *Proxy) Match(path string) (string, bool) {
	rt := p.lookup(path)
	if rt == nil {
		return "", false
	}
	return rt.prefix, true
}

func (p *Proxy) lookup(path string) *route {
	for i := range p.routes {
		if path == p.routes[i].prefix || strings.HasPrefix(path, p.routes[i].prefix+"/") {
			return &p.routes[i]
		}
	}
	return nil
}

// Prefixes lists the configured prefixes, longest first.
func (p *Proxy) Prefixes() []string {
	out := make([]string, len(p.routes))
	for i, rt := range p.routes {
		out[i] = rt.prefix
	}
	return out
}

// Mount registers every prefix (and its subtree) on r.
func (p *Proxy) Mount(r chi.Router) {
	for _, rt := range p.routes {
		r.Handle(rt.prefix, p)
		r.Handle(rt.prefix+"/*", p)
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt := p.lookup(r.URL.Path)
	if rt == nil {
		http.NotFound(w, r)
		return
	}
	rt.proxy.ServeHTTP(w, r)
}

func (p *Proxy) backendError(prefix string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.WarnContext(r.Context(), "backend unavailable", "prefix", prefix, "path", r.URL.Path, "error", err)
		w.WriteHeader(http.StatusBadGateway)
	}
}

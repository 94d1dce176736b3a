// Package mcp serves the protected MCP endpoints behind the OAuth gateway.
package mcp

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// PathPrefix is the route prefix every MCP endpoint is mounted under.
const PathPrefix = "/mcp/"

// Endpoint is a protected MCP resource proxied to an upstream service.
type Endpoint struct {
	Name        string `json:"name"`
	UpstreamURL string `json:"upstream_url"`
	Active      bool   `json:"active"`

	target *url.URL
}

// Registry tracks the registered MCP endpoints.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*Endpoint)}
}

// Register adds or replaces an endpoint.
func (r *Registry) Register(name, upstreamURL string, active bool) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid endpoint name %q", name)
	}
	target, err := url.Parse(upstreamURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return fmt.Errorf("endpoint %s: upstream URL must be absolute, got %q", name, upstreamURL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[name] = &Endpoint{Name: name, UpstreamURL: upstreamURL, Active: active, target: target}
	return nil
}

// SetActive toggles an endpoint. It reports whether the endpoint exists.
func (r *Registry) SetActive(name string, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[name]
	if ok {
		ep.Active = active
	}
	return ok
}

// Lookup returns an active endpoint by name.
func (r *Registry) Lookup(name string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	if !ok || !ep.Active {
		return Endpoint{}, false
	}
	return *ep, true
}

// Active returns the active endpoints sorted by name.
func (r *Registry) Active() []Endpoint {
	return r.list(true)
}

// All returns every registered endpoint sorted by name.
func (r *Registry) All() []Endpoint {
	return r.list(false)
}

func (r *Registry) list(activeOnly bool) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		if ep.Active || !activeOnly {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResourceURLs returns the public resource URL of every active endpoint.
func (r *Registry) ResourceURLs(baseURL string) []string {
	active := r.Active()
	urls := make([]string, 0, len(active))
	for _, ep := range active {
		urls = append(urls, strings.TrimRight(baseURL, "/")+PathPrefix+ep.Name)
	}
	return urls
}

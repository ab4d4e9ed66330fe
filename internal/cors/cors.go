// Package cors shapes Cross-Origin Resource Sharing headers from named,
// immutable policies.
package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	PublicName     = "public"
	ManagementName = "management"

	defaultMaxAge = 24 * time.Hour
)

// Policy is a static CORS configuration. The zero value allows nothing.
type Policy struct {
	name      string
	anyOrigin bool
	origins   map[string]bool
	methods   string
	headers   string
	maxAge    time.Duration
}

// NewPolicy builds a policy. An origin of "*" allows every origin.
func NewPolicy(name string, origins, methods, headers []string) Policy {
	p := Policy{
		name:    name,
		origins: make(map[string]bool, len(origins)),
		methods: strings.Join(methods, ", "),
		headers: strings.Join(headers, ", "),
		maxAge:  defaultMaxAge,
	}
	for _, o := range origins {
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[strings.TrimRight(o, "/")] = true
	}
	return p
}

// Public is the policy of the submission endpoint: forms are embedded on
// arbitrary third-party sites.
func Public(origins []string) Policy {
	return NewPolicy(PublicName, origins,
		[]string{http.MethodPost, http.MethodOptions},
		[]string{"Content-Type", "Accept", "X-Requested-With"})
}

// Management is the policy of the API-key authenticated REST API.
func Management(origins []string) Policy {
	return NewPolicy(ManagementName, origins,
		[]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		[]string{"Content-Type", "Accept", "Authorization", "X-API-Key"})
}

func (p Policy) Name() string { return p.name }

// Apply writes the policy's headers for a request from origin.
func (p Policy) Apply(h http.Header, origin string) {
	switch {
	case p.anyOrigin:
		h.Set("Access-Control-Allow-Origin", "*")
	case origin != "" && p.origins[origin]:
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	default:
		return
	}
	h.Set("Access-Control-Allow-Methods", p.methods)
	h.Set("Access-Control-Allow-Headers", p.headers)
}

// Preflight answers an OPTIONS request: headers only, no body, 204.
// It never looks at credentials.
func (p Policy) Preflight(w http.ResponseWriter, r *http.Request) {
	p.Apply(w.Header(), r.Header.Get("Origin"))
	w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(p.maxAge.Seconds())))
	w.WriteHeader(http.StatusNoContent)
}

// Handler answers preflights itself and decorates every other response.
func (p Policy) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			p.Preflight(w, r)
			return
		}
		p.Apply(w.Header(), r.Header.Get("Origin"))
		next.ServeHTTP(w, r)
	})
}

// Set holds the two policies the API attaches to endpoint classes.
type Set struct {
	Public     Policy
	Management Policy
}

// Lookup returns the policy registered under name.
func (s Set) Lookup(name string) (Policy, bool) {
	switch name {
	case PublicName:
		return s.Public, true
	case ManagementName:
		return s.Management, true
	}
	return Policy{}, false
}

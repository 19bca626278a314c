package x402

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// DefaultMaxTimeoutSeconds is the authorization validity window offered when a
// payment option does not set one.
const DefaultMaxTimeoutSeconds = 300

// PaymentOption is one acceptable way to pay for a route.
type PaymentOption struct {
	// Scheme is the payment scheme (default "exact").
	Scheme string

	// Price is the display price (e.g., "$0.01").
	Price string

	// Network is the CAIP-2 network id or a legacy network name.
	Network string

	// Asset overrides the network's default USDC asset.
	Asset string

	// Decimals is the asset's decimals. Required when Asset is set.
	Decimals uint8

	// PayTo resolves the destination address.
	PayTo PayToResolver

	// MaxTimeoutSeconds is the authorization validity window (default 300).
	MaxTimeoutSeconds int

	// Extra is merged into the requirement's scheme-specific data.
	Extra map[string]interface{}
}

// RouteConfig describes how a route is paid for.
type RouteConfig struct {
	// Accepts lists the payment options in order of preference.
	Accepts []PaymentOption

	// Description is a human-readable description of the resource.
	Description string

	// MimeType is the content type of the resource (default "application/json").
	MimeType string
}

// RouteRequirement is a registered template requirement and the resolver for its payTo.
type RouteRequirement struct {
	Requirement PaymentRequirement
	Decimals    uint8
	PayTo       PayToResolver
}

// ResolveRequest builds the resolution input for this requirement.
func (r RouteRequirement) ResolveRequest(proofHeader string) ResolveRequest {
	return ResolveRequest{ProofHeader: proofHeader, Requirement: r.Requirement, Decimals: r.Decimals}
}

type route struct {
	key          string
	method       string
	path         string
	wildcard     bool
	requirements []RouteRequirement
}

// Registry maps routes to their payment requirements. It is read-only after construction.
type Registry struct {
	exact    map[string]*route
	prefixes []*route // longest prefix first
	order    []*route
}

// NewRegistry builds a registry from route keys of the form "METHOD /path".
// The method may be omitted to match every method, and a path ending in "/*"
// matches the path and everything below it.
func NewRegistry(routes map[string]RouteConfig) (*Registry, error) {
	r := &Registry{exact: make(map[string]*route)}

	keys := make([]string, 0, len(routes))
	for k := range routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rt, err := buildRoute(key, routes[key])
		if err != nil {
			return nil, err
		}
		if rt.wildcard {
			r.prefixes = append(r.prefixes, rt)
		} else {
			id := rt.method + " " + rt.path
			if _, dup := r.exact[id]; dup {
				return nil, fmt.Errorf("%w: duplicate route %q", ErrInvalidRequirements, key)
			}
			r.exact[id] = rt
		}
		r.order = append(r.order, rt)
	}

	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].path) > len(r.prefixes[j].path)
	})
	return r, nil
}

func buildRoute(key string, cfg RouteConfig) (*route, error) {
	method, path := "", strings.TrimSpace(key)
	if m, p, ok := strings.Cut(path, " "); ok {
		method, path = strings.ToUpper(m), strings.TrimSpace(p)
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: route %q: path must start with /", ErrInvalidRequirements, key)
	}
	if len(cfg.Accepts) == 0 {
		return nil, fmt.Errorf("%w: route %q: no payment options", ErrInvalidRequirements, key)
	}

	rt := &route{key: key, method: method, path: path}
	if strings.HasSuffix(path, "/*") {
		rt.wildcard = true
		rt.path = strings.TrimSuffix(path, "*")
	}

	for i, opt := range cfg.Accepts {
		req, err := buildRequirement(opt, cfg)
		if err != nil {
			return nil, fmt.Errorf("route %q option %d: %w", key, i, err)
		}
		rt.requirements = append(rt.requirements, req)
	}
	return rt, nil
}

func buildRequirement(opt PaymentOption, cfg RouteConfig) (RouteRequirement, error) {
	if opt.PayTo == nil {
		return RouteRequirement{}, fmt.Errorf("%w: payTo resolver is required", ErrInvalidRequirements)
	}

	scheme := opt.Scheme
	if scheme == "" {
		scheme = SchemeExact
	}

	network := CanonicalNetwork(opt.Network)
	if _, err := ValidateNetwork(network); err != nil {
		return RouteRequirement{}, err
	}

	asset, decimals := opt.Asset, opt.Decimals
	chain, err := LookupChain(network)
	known := err == nil
	if asset == "" {
		if !known {
			return RouteRequirement{}, fmt.Errorf("%w: asset is required for network %s", ErrInvalidRequirements, network)
		}
		asset, decimals = chain.USDCAddress, chain.Decimals
	} else if decimals == 0 {
		return RouteRequirement{}, fmt.Errorf("%w: decimals are required for asset %s", ErrInvalidRequirements, asset)
	}

	atomic, err := ParsePrice(opt.Price, decimals)
	if err != nil {
		return RouteRequirement{}, err
	}

	maxTimeout := opt.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = DefaultMaxTimeoutSeconds
	}
	if maxTimeout < 0 {
		return RouteRequirement{}, fmt.Errorf("%w: maxTimeoutSeconds must be positive", ErrInvalidRequirements)
	}

	mimeType := cfg.MimeType
	if mimeType == "" {
		mimeType = "application/json"
	}

	req := PaymentRequirement{
		Scheme:            scheme,
		Network:           network,
		Price:             opt.Price,
		Amount:            atomic.String(),
		Asset:             asset,
		Description:       cfg.Description,
		MimeType:          mimeType,
		MaxTimeoutSeconds: maxTimeout,
	}

	// EIP-3009 domain parameters for the default asset
	if known && asset == chain.USDCAddress && chain.EIP3009Name != "" {
		req.Extra = map[string]interface{}{
			"name":    chain.EIP3009Name,
			"version": chain.EIP3009Version,
		}
	}
	for k, v := range opt.Extra {
		if req.Extra == nil {
			req.Extra = make(map[string]interface{})
		}
		req.Extra[k] = v
	}

	return RouteRequirement{Requirement: req, Decimals: decimals, PayTo: opt.PayTo}, nil
}

// RequirementsFor returns the requirements gating method and path, in order of
// preference. The second result is false when the route is not gated.
func (r *Registry) RequirementsFor(method, path string) ([]RouteRequirement, bool) {
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodGet
	}

	if rt, ok := r.exact[method+" "+path]; ok {
		return rt.requirements, true
	}
	if rt, ok := r.exact[" "+path]; ok {
		return rt.requirements, true
	}
	for _, rt := range r.prefixes {
		if rt.method != "" && rt.method != method {
			continue
		}
		if strings.HasPrefix(path, rt.path) || path == strings.TrimSuffix(rt.path, "/") {
			return rt.requirements, true
		}
	}
	return nil, false
}

// Requirements returns every template requirement, route by route in key order.
func (r *Registry) Requirements() []PaymentRequirement {
	var out []PaymentRequirement
	for _, rt := range r.order {
		for _, req := range rt.requirements {
			out = append(out, req.Requirement)
		}
	}
	return out
}

// WithRequirements returns a copy of the registry whose templates are replaced,
// in the order Requirements returns them. Scheme and network cannot change.
func (r *Registry) WithRequirements(reqs []PaymentRequirement) (*Registry, error) {
	out := &Registry{exact: make(map[string]*route)}
	clones := make(map[*route]*route, len(r.order))
	i := 0
	for _, rt := range r.order {
		c := *rt
		c.requirements = make([]RouteRequirement, len(rt.requirements))
		for j, req := range rt.requirements {
			if i >= len(reqs) {
				return nil, fmt.Errorf("%w: expected %d requirements, got %d", ErrInvalidRequirements, i+1, len(reqs))
			}
			next := reqs[i]
			if next.Scheme != req.Requirement.Scheme || next.Network != req.Requirement.Network {
				return nil, fmt.Errorf("%w: requirement %d changed scheme or network", ErrInvalidRequirements, i)
			}
			req.Requirement = next
			c.requirements[j] = req
			i++
		}
		clones[rt] = &c
		out.order = append(out.order, &c)
	}
	if i != len(reqs) {
		return nil, fmt.Errorf("%w: expected %d requirements, got %d", ErrInvalidRequirements, i, len(reqs))
	}
	for id, rt := range r.exact {
		out.exact[id] = clones[rt]
	}
	for _, rt := range r.prefixes {
		out.prefixes = append(out.prefixes, clones[rt])
	}
	return out, nil
}

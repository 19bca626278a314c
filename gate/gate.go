// Package gate decides whether a request to a protected resource is allowed.
//
// A request without a proof is answered with a challenge whose payTo
// addresses are resolved fresh. A request with a proof is decoded, checked by
// the verifier of its scheme against the route's requirements (payTo
// re-resolved from the proof itself), and verified by the facilitator. Once
// the resource has been produced the caller settles the authorization.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/encoding"
	"github.com/mark3labs/x402-paygate/exact"
	"github.com/mark3labs/x402-paygate/facilitator"
	"github.com/mark3labs/x402-paygate/metrics"
	"github.com/mark3labs/x402-paygate/reconcile"
	"github.com/mark3labs/x402-paygate/validation"
)

// ErrNotGated is returned for routes the registry does not protect.
var ErrNotGated = errors.New("gate: route is not gated")

// Config configures a Gate.
type Config struct {
	// Registry holds the payment requirements per route. Required.
	Registry *x402.Registry

	// Facilitator verifies and settles payments. Required.
	Facilitator facilitator.Interface

	// Fallback is tried when Facilitator is unavailable.
	Fallback facilitator.Interface

	// Verifiers are the scheme verifiers. Defaults to the exact verifier.
	Verifiers []x402.SchemeVerifier

	// Timeouts bound resolution, verification and settlement. Zero means x402.DefaultTimeouts.
	Timeouts x402.TimeoutConfig

	// VerifyOnly skips settlement.
	VerifyOnly bool

	// Recorder receives settlement failures of served requests.
	// Defaults to a reconcile.LogRecorder on Logger.
	Recorder reconcile.Recorder

	// Metrics receives outcome counters and latencies. Defaults to metrics.NoopRecorder.
	Metrics metrics.Recorder

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Gate orchestrates payment gating. It is safe for concurrent use.
type Gate struct {
	registry   *x402.Registry
	primary    facilitator.Interface
	fallback   facilitator.Interface
	verifiers  map[string]x402.SchemeVerifier
	timeouts   x402.TimeoutConfig
	verifyOnly bool
	recorder   reconcile.Recorder
	metrics    metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Gate.
func New(cfg Config) (*Gate, error) {
	if cfg.Registry == nil {
		return nil, errors.New("gate: registry is required")
	}
	if cfg.Facilitator == nil {
		return nil, errors.New("gate: facilitator is required")
	}

	g := &Gate{
		registry:   cfg.Registry,
		primary:    cfg.Facilitator,
		fallback:   cfg.Fallback,
		verifiers:  make(map[string]x402.SchemeVerifier),
		timeouts:   cfg.Timeouts,
		verifyOnly: cfg.VerifyOnly,
		recorder:   cfg.Recorder,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if g.timeouts == (x402.TimeoutConfig{}) {
		g.timeouts = x402.DefaultTimeouts
	}
	if err := g.timeouts.Validate(); err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.recorder == nil {
		g.recorder = reconcile.LogRecorder{Logger: g.logger}
	}
	if g.metrics == nil {
		g.metrics = metrics.NoopRecorder{}
	}
	if g.now == nil {
		g.now = time.Now
	}

	verifiers := cfg.Verifiers
	if len(verifiers) == 0 {
		verifiers = []x402.SchemeVerifier{exact.New()}
	}
	for _, v := range verifiers {
		if _, dup := g.verifiers[v.Scheme()]; dup {
			return nil, fmt.Errorf("gate: duplicate verifier for scheme %q", v.Scheme())
		}
		g.verifiers[v.Scheme()] = v
	}
	return g, nil
}

// Request is the part of an inbound request the gate looks at.
type Request struct {
	Method string
	Path   string

	// ResourceURL is the absolute URL reported in challenges.
	ResourceURL string

	// ProofHeader is the raw payment header, or "" when the client sent none.
	ProofHeader string
}

// Authorization is a verified payment awaiting settlement.
type Authorization struct {
	Proof       x402.PaymentProof
	Requirement x402.PaymentRequirement
	PayTo       x402.DepositAddress
	Payer       string

	request  Request
	verifier facilitator.Interface
}

// Gated reports whether method and path are protected.
func (g *Gate) Gated(method, path string) bool {
	_, ok := g.registry.RequirementsFor(method, path)
	return ok
}

// VerifyOnly reports whether settlement is skipped.
func (g *Gate) VerifyOnly() bool {
	return g.verifyOnly
}

// Challenge builds the 402 body for a request without a proof. Every
// requirement's payTo is resolved fresh, in registry order.
func (g *Gate) Challenge(ctx context.Context, req Request) (*x402.PaymentRequired, error) {
	reqs, ok := g.registry.RequirementsFor(req.Method, req.Path)
	if !ok {
		return nil, ErrNotGated
	}

	accepts := make([]x402.PaymentRequirement, 0, len(reqs))
	for _, rr := range reqs {
		resolved, _, err := g.resolve(ctx, rr, "")
		if err != nil {
			g.logger.Error("failed to resolve payTo", "path", req.Path, "network", rr.Requirement.Network, "error", err)
			return nil, err
		}
		accepts = append(accepts, resolved)
	}

	g.logger.Debug("challenged", "method", req.Method, "path", req.Path, "options", len(accepts))
	for _, a := range accepts {
		g.metrics.IncCounter(metrics.EventChallenged, map[string]string{metrics.LabelNetwork: a.Network})
	}
	return g.paymentRequired(req, "Payment required", accepts), nil
}

// RetryChallenge builds the accepts list for a denied retry by resolving every
// requirement from the request's proof. It never creates deposit intents.
// Requirements the proof cannot be resolved against are left out.
func (g *Gate) RetryChallenge(ctx context.Context, req Request) (*x402.PaymentRequired, error) {
	if req.ProofHeader == "" {
		return nil, errors.New("gate: retry challenge needs a proof header")
	}
	reqs, ok := g.registry.RequirementsFor(req.Method, req.Path)
	if !ok {
		return nil, ErrNotGated
	}

	var (
		accepts  []x402.PaymentRequirement
		firstErr error
	)
	for _, rr := range reqs {
		resolved, _, err := g.resolve(ctx, rr, req.ProofHeader)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		accepts = append(accepts, resolved)
	}
	if len(accepts) == 0 {
		return nil, firstErr
	}
	return g.paymentRequired(req, "Payment required", accepts), nil
}

func (g *Gate) paymentRequired(req Request, msg string, accepts []x402.PaymentRequirement) *x402.PaymentRequired {
	pr := &x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       msg,
		Accepts:     accepts,
	}
	if req.ResourceURL != "" {
		pr.Resource = &x402.ResourceInfo{URL: req.ResourceURL}
		if len(accepts) > 0 {
			pr.Resource.Description = accepts[0].Description
			pr.Resource.MimeType = accepts[0].MimeType
		}
	}
	return pr
}

// resolve binds rr to an address. An empty header resolves fresh.
func (g *Gate) resolve(ctx context.Context, rr x402.RouteRequirement, header string) (x402.PaymentRequirement, x402.DepositAddress, error) {
	ctx, cancel := x402.WithDeadline(ctx, g.timeouts.ResolveTimeout)
	defer cancel()

	start := time.Now()
	addr, err := rr.PayTo.ResolvePayTo(ctx, rr.ResolveRequest(header))
	g.metrics.ObserveLatency(metrics.OpResolve, time.Since(start), map[string]string{metrics.LabelNetwork: rr.Requirement.Network})
	if err != nil {
		var pe *x402.PaymentError
		if !errors.As(err, &pe) {
			err = x402.ResolutionError(x402.ErrCodeProcessorResponseInvalid, "payTo could not be resolved", err)
		}
		return x402.PaymentRequirement{}, x402.DepositAddress{}, err
	}

	resolved := rr.Requirement.WithPayTo(addr.Address)
	if err := validation.ValidateRequirement(resolved); err != nil {
		code := x402.ErrCodeProcessorResponseInvalid
		if header != "" {
			code = x402.ErrCodeMalformedProof
		}
		return x402.PaymentRequirement{}, x402.DepositAddress{}, x402.ResolutionError(code, "resolved payTo is not usable", err)
	}
	return resolved, addr, nil
}

// Authorize decodes and verifies the proof of req. On success the returned
// Authorization must be passed to Settle once the resource has been produced.
//
// Errors are *x402.PaymentError values; use StatusOf and Denial to answer them.
func (g *Gate) Authorize(ctx context.Context, req Request) (*Authorization, error) {
	reqs, ok := g.registry.RequirementsFor(req.Method, req.Path)
	if !ok {
		return nil, ErrNotGated
	}
	if req.ProofHeader == "" {
		return nil, x402.DecodeError(x402.ErrCodeMalformedHeader, "payment header is empty", nil)
	}

	proof, err := encoding.DecodeProof(req.ProofHeader)
	if err != nil {
		g.logger.Warn("invalid payment header", "path", req.Path, "error", err)
		g.rejected("", err)
		return nil, err
	}
	if err := validation.ValidateProof(proof); err != nil {
		err = x402.DecodeError(x402.ErrCodeSchemaMismatch, "payment proof envelope is invalid", err)
		g.logger.Warn("invalid payment proof", "path", req.Path, "error", err)
		g.rejected(proof.Network, err)
		return nil, err
	}
	g.logger.Debug("decoded proof", "path", req.Path, "scheme", proof.Scheme, "network", proof.Network)

	auth, err := g.check(ctx, req, reqs, proof)
	if err != nil {
		g.logger.Warn("payment rejected", "path", req.Path, "reason", x402.CodeOf(err), "error", err)
		g.rejected(proof.Network, err)
		return nil, err
	}

	if err := g.verify(ctx, auth); err != nil {
		g.rejected(proof.Network, err)
		return nil, err
	}
	g.metrics.IncCounter(metrics.EventVerified, map[string]string{metrics.LabelNetwork: auth.Requirement.Network})
	return auth, nil
}

func (g *Gate) rejected(network string, err error) {
	g.metrics.IncCounter(metrics.EventRejected, map[string]string{
		metrics.LabelNetwork: network,
		metrics.LabelReason:  string(x402.CodeOf(err)),
	})
}

// check runs the scheme verifier against each scheme-matching requirement in
// order. The first requirement that passes wins; otherwise the failure of the
// first candidate is returned.
func (g *Gate) check(ctx context.Context, req Request, reqs []x402.RouteRequirement, proof x402.PaymentProof) (*Authorization, error) {
	verifier, ok := g.verifiers[proof.Scheme]
	if !ok {
		return nil, x402.VerificationFailure(x402.ErrCodeUnsupportedScheme, fmt.Sprintf("scheme %q is not supported", proof.Scheme))
	}

	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	now := g.now()
	for _, rr := range reqs {
		if rr.Requirement.Scheme != proof.Scheme {
			continue
		}
		if x402.CanonicalNetwork(rr.Requirement.Network) != proof.Network {
			fail(x402.VerificationFailure(x402.ErrCodeNetworkMismatch,
				fmt.Sprintf("network %s does not match %s", proof.Network, rr.Requirement.Network)))
			continue
		}

		resolved, addr, err := g.resolve(ctx, rr, req.ProofHeader)
		if err != nil {
			fail(err)
			continue
		}
		if err := verifier.Check(proof, resolved, now); err != nil {
			fail(err)
			continue
		}

		g.logger.Debug("scheme check passed", "path", req.Path, "network", resolved.Network, "payTo", resolved.PayTo)
		return &Authorization{
			Proof:       proof,
			Requirement: resolved,
			PayTo:       addr,
			Payer:       proof.Payload.Authorization.From,
			request:     req,
		}, nil
	}

	if firstErr == nil {
		return nil, x402.VerificationFailure(x402.ErrCodeUnsupportedScheme,
			fmt.Sprintf("route accepts no %q payment", proof.Scheme))
	}
	return nil, firstErr
}

func (g *Gate) verify(ctx context.Context, auth *Authorization) error {
	g.logger.Info("verifying payment", "scheme", auth.Proof.Scheme, "network", auth.Proof.Network)
	start := time.Now()
	defer func() {
		g.metrics.ObserveLatency(metrics.OpVerify, time.Since(start), map[string]string{metrics.LabelNetwork: auth.Requirement.Network})
	}()
	used := g.primary
	resp, err := g.verifyWith(ctx, g.primary, auth)
	if err != nil && g.fallback != nil && unavailable(err) {
		g.logger.Warn("primary facilitator failed, trying fallback", "error", err)
		used = g.fallback
		resp, err = g.verifyWith(ctx, g.fallback, auth)
	}
	if err != nil {
		g.logger.Error("facilitator verification failed", "error", err)
		if !errors.Is(err, x402.ErrFacilitatorUnavailable) {
			err = x402.NewPaymentError(x402.ErrFacilitatorUnavailable, x402.ErrCodeFacilitatorUnavailable, "facilitator verification failed", err)
		}
		return err
	}
	if resp == nil || !resp.IsValid {
		reason := ""
		if resp != nil {
			reason = resp.InvalidReason
		}
		g.logger.Warn("payment verification failed", "reason", reason)
		return x402.VerificationFailure(x402.ErrCodeFacilitatorRejected, "facilitator rejected the payment").
			WithDetails("invalidReason", reason)
	}

	if resp.Payer != "" {
		auth.Payer = resp.Payer
	}
	auth.verifier = used
	g.logger.Info("payment verified", "payer", auth.Payer)
	return nil
}

// unavailable reports whether err is an outage rather than an answer.
func unavailable(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// verifyWith calls f under a fresh VerifyTimeout deadline.
func (g *Gate) verifyWith(ctx context.Context, f facilitator.Interface, auth *Authorization) (*facilitator.VerifyResponse, error) {
	ctx, cancel := x402.WithDeadline(ctx, g.timeouts.VerifyTimeout)
	defer cancel()
	return f.Verify(ctx, auth.Proof, auth.Requirement)
}

func (g *Gate) settleWith(ctx context.Context, f facilitator.Interface, auth *Authorization) (*x402.SettlementResponse, error) {
	ctx, cancel := x402.WithDeadline(ctx, g.timeouts.SettleTimeout)
	defer cancel()
	return f.Settle(ctx, auth.Proof, auth.Requirement)
}

// Settle settles a verified payment. It returns (nil, nil) in verify-only mode.
//
// The resource is assumed to be served regardless of the outcome: a failure is
// handed to the reconciliation recorder and returned for the caller to log,
// never to be turned into a denial.
func (g *Gate) Settle(ctx context.Context, auth *Authorization) (*x402.SettlementResponse, error) {
	if auth == nil || auth.verifier == nil {
		return nil, errors.New("gate: settle requires a verified authorization")
	}
	if g.verifyOnly {
		return nil, nil
	}

	// settlement outlives a client disconnect
	ctx = context.WithoutCancel(ctx)

	g.logger.Info("settling payment", "payer", auth.Payer)
	labels := map[string]string{metrics.LabelNetwork: auth.Requirement.Network}
	start := time.Now()
	resp, err := g.settleWith(ctx, auth.verifier, auth)
	if err != nil && unavailable(err) {
		if other := g.other(auth.verifier); other != nil {
			g.logger.Warn("facilitator settlement failed, trying fallback", "error", err)
			resp, err = g.settleWith(ctx, other, auth)
		}
	}
	if err == nil && (resp == nil || !resp.Success) {
		err = x402.NewPaymentError(x402.ErrSettlementFailed, x402.ErrCodeSettlementFailed, "facilitator did not settle the payment", nil)
	}
	if err != nil {
		if !errors.Is(err, x402.ErrSettlementFailed) {
			err = x402.NewPaymentError(x402.ErrSettlementFailed, x402.ErrCodeSettlementFailed, "payment settlement failed", err)
		}
		g.metrics.ObserveLatency(metrics.OpSettle, time.Since(start), labels)
		g.metrics.IncCounter(metrics.EventSettleFailed, labels)
		g.reconcile(ctx, auth, resp, err)
		return resp, err
	}

	g.metrics.ObserveLatency(metrics.OpSettle, time.Since(start), labels)
	g.metrics.IncCounter(metrics.EventSettled, labels)
	g.logger.Info("payment settled", "transaction", resp.Transaction)
	return resp, nil
}

func (g *Gate) other(f facilitator.Interface) facilitator.Interface {
	if g.fallback == nil {
		return nil
	}
	if f == g.primary {
		return g.fallback
	}
	return g.primary
}

func (g *Gate) reconcile(ctx context.Context, auth *Authorization, resp *x402.SettlementResponse, err error) {
	reason := err.Error()
	if resp != nil && resp.ErrorReason != "" {
		reason = resp.ErrorReason
	}
	ev := reconcile.Event{
		Time:     g.now(),
		Method:   auth.request.Method,
		Path:     auth.request.Path,
		Scheme:   auth.Requirement.Scheme,
		Network:  auth.Requirement.Network,
		Asset:    auth.Requirement.Asset,
		Amount:   auth.Requirement.Amount,
		PayTo:    auth.Requirement.PayTo,
		Payer:    auth.Payer,
		Nonce:    auth.Proof.Payload.Authorization.Nonce,
		IntentID: auth.PayTo.IntentID,
		Reason:   reason,
	}
	ctx, cancel := x402.WithDeadline(ctx, g.timeouts.SettleTimeout)
	defer cancel()
	if rerr := g.recorder.Record(ctx, ev); rerr != nil {
		g.logger.Error("failed to record reconciliation event", "path", ev.Path, "payer", ev.Payer, "error", rerr)
	}
}

// Copyright 2026 © The Hubnet Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub implements the search protocol of a hub node: resolve a
// request against the local registry and, failing that, forward it depth
// first to peer hubs that the search has not visited yet.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/matcher"
	"github.com/jllopis/hubnet/pkg/rank"
	"github.com/jllopis/hubnet/pkg/registry"
	"github.com/jllopis/hubnet/pkg/resilience"
	"github.com/jllopis/hubnet/pkg/search"
	"github.com/jllopis/hubnet/pkg/telemetry"
)

// DefaultPeerTimeout bounds one forwarded search.
const DefaultPeerTimeout = 10 * time.Second

// PeerClient forwards a search to another hub.
type PeerClient interface {
	Search(ctx context.Context, peer identity.Node, q search.Query, st search.State) (search.Result, error)
}

// Node is one hub.
type Node struct {
	self        identity.Node
	store       registry.Store
	matcher     matcher.Matcher
	peers       PeerClient
	peerTimeout time.Duration
	retry       resilience.RetryConfig
	breakers    *resilience.BreakerSet
	metrics     *telemetry.HubMetrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Option configures a Node.
type Option func(*Node) error

var (
	ErrMissingStore   = errors.New("hub registry store is required")
	ErrMissingMatcher = errors.New("hub matcher is required")
)

// New creates a hub identified by self.
func New(self identity.Node, store registry.Store, m matcher.Matcher, opts ...Option) (*Node, error) {
	n := &Node{
		self:        self,
		store:       store,
		matcher:     m,
		peerTimeout: DefaultPeerTimeout,
		retry:       resilience.DefaultRetryConfig(),
		tracer:      otel.Tracer("hubnet/hub"),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	if n.store == nil {
		return nil, ErrMissingStore
	}
	if n.matcher == nil {
		return nil, ErrMissingMatcher
	}
	if err := self.Validate(); err != nil {
		return nil, err
	}
	if n.logger == nil {
		n.logger = telemetry.Component("hub")
	}
	n.logger = n.logger.With(slog.String("hub", self.Name))
	return n, nil
}

// WithPeerClient sets the transport used to reach peer hubs. A hub without
// one only resolves locally.
func WithPeerClient(c PeerClient) Option {
	return func(n *Node) error {
		n.peers = c
		return nil
	}
}

// WithPeerTimeout bounds each forwarded search. d <= 0 keeps
// DefaultPeerTimeout; a forwarded search is never unbounded.
func WithPeerTimeout(d time.Duration) Option {
	return func(n *Node) error {
		if d <= 0 {
			d = DefaultPeerTimeout
		}
		n.peerTimeout = d
		return nil
	}
}

// WithRetry sets the retry policy for peer calls.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(n *Node) error {
		n.retry = rc
		return nil
	}
}

// WithBreakers enables a circuit breaker per peer.
func WithBreakers(set *resilience.BreakerSet) Option {
	return func(n *Node) error {
		n.breakers = set
		return nil
	}
}

// WithMetrics records search and peer counters.
func WithMetrics(m *telemetry.HubMetrics) Option {
	return func(n *Node) error {
		n.metrics = m
		return nil
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(n *Node) error {
		if t == nil {
			return errors.New("tracer is nil")
		}
		n.tracer = t
		return nil
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) error {
		n.logger = l
		return nil
	}
}

// Self returns the hub identity.
func (n *Node) Self() identity.Node { return n.self }

// Store returns the hub registry.
func (n *Node) Store() registry.Store { return n.store }

// Search resolves q locally and otherwise asks unvisited peers in registry
// order, returning the first Found. It never fails: every error degrades to
// NotFound. The result's Visited set holds every hub this subtree asked,
// this one included.
func (n *Node) Search(ctx context.Context, q search.Query, st search.State) search.Result {
	start := time.Now()
	ctx, span := n.tracer.Start(ctx, "hub.search",
		trace.WithAttributes(telemetry.SearchAttributes(n.self.Name, q.ID, q.Text, st.Visited.Len(), st.Blocked.Len())...))
	defer span.End()

	log := n.logger.With(slog.String("search_id", q.ID))
	res := n.search(ctx, log, q, st)

	outcome := telemetry.OutcomeNotFound
	if res.Found {
		outcome = telemetry.OutcomeFound
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrOutcome, outcome),
		attribute.Int(telemetry.AttrProviders, len(res.Providers)),
	)
	n.metrics.RecordSearch(ctx, n.self.Name, outcome, time.Since(start))
	return res
}

func (n *Node) search(ctx context.Context, log *slog.Logger, q search.Query, st search.State) search.Result {
	local, err := n.Local(ctx, q, st)
	if err != nil {
		log.WarnContext(ctx, "hub.search.local.failed", slog.String("error", err.Error()))
	}
	if local.Found {
		log.DebugContext(ctx, "hub.search.local.found", slog.Int("providers", len(local.Providers)))
		local.Visited = st.Visited.With(n.self)
		return local
	}

	st = st.Visit(n.self)
	if n.peers == nil {
		return n.exhausted(st)
	}
	peers, err := n.store.ActivePeerHubs(ctx)
	if err != nil {
		log.WarnContext(ctx, "hub.search.peers.failed", slog.String("error", err.Error()))
		return n.exhausted(st)
	}

	for _, p := range peers {
		if p == n.self || st.Visited.Contains(p) {
			continue
		}
		if ctx.Err() != nil {
			log.WarnContext(ctx, "hub.search.cancelled", slog.String("error", ctx.Err().Error()))
			break
		}
		res, err := n.forward(ctx, p, q, st)
		// The peer and everything it reports as asked are off limits to
		// the remaining siblings.
		st = st.Visit(p).Absorb(res.Visited)
		if err != nil {
			log.WarnContext(ctx, "hub.peer.failed",
				slog.String("peer", p.String()),
				slog.String("error", err.Error()))
			continue
		}
		res = res.WithoutBlocked(st.Blocked)
		if res.Found {
			log.DebugContext(ctx, "hub.peer.found",
				slog.String("peer", p.String()),
				slog.Int("providers", len(res.Providers)))
			res.Visited = st.Visited
			return res
		}
		log.DebugContext(ctx, "hub.peer.not_found", slog.String("peer", p.String()))
	}
	return n.exhausted(st)
}

func (n *Node) exhausted(st search.State) search.Result {
	res := search.NotFound("no agent found for the request")
	res.Visited = st.Visited
	return res
}

// Local resolves q against this hub's registry only. The returned error
// explains a NotFound caused by a failure; the result is always usable.
func (n *Node) Local(ctx context.Context, q search.Query, st search.State) (search.Result, error) {
	table, err := n.store.Categories(ctx)
	if err != nil {
		return search.NotFound("registry unavailable"), err
	}
	if len(table) == 0 {
		return search.NotFound("no category in this hub"), nil
	}
	categories, err := n.matcher.Categories(ctx, q.Text, table)
	if err != nil {
		return search.NotFound("request could not be classified"), err
	}
	if len(categories) == 0 {
		return search.NotFound("no category matches the request"), nil
	}
	candidates, err := n.store.ActiveProviders(ctx, categories, st.Blocked)
	if err != nil {
		return search.NotFound("registry unavailable"), err
	}
	if len(candidates) == 0 {
		return search.NotFound("no active agent in the matching categories"), nil
	}
	out, err := n.matcher.Match(ctx, q.Text, candidates)
	if err != nil {
		return search.NotFound("request could not be matched"), err
	}
	picked := matcher.Resolve(out, candidates)
	if len(picked) == 0 {
		msg := out.Message
		if msg == "" {
			msg = "no agent matches the request"
		}
		return search.NotFound(msg), nil
	}
	providers := make([]search.Provider, 0, len(picked))
	for _, rec := range picked {
		providers = append(providers, search.FromRecord(rec))
	}
	return search.Found(rank.Sort(providers)).WithoutBlocked(st.Blocked), nil
}

func (n *Node) forward(ctx context.Context, p identity.Node, q search.Query, st search.State) (search.Result, error) {
	ctx, span := n.tracer.Start(ctx, "hub.peer.search",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.PeerAttributes(p.Name, p.Addr())...))
	defer span.End()

	var res search.Result
	call := func(ctx context.Context) error {
		return n.retry.Do(ctx, func(ctx context.Context) error {
			return resilience.WithTimeout(ctx, n.peerTimeout, func(ctx context.Context) error {
				var err error
				res, err = n.peers.Search(ctx, p, q, st)
				return err
			})
		})
	}

	var err error
	if n.breakers != nil {
		err = n.breakers.Get(p.Key()).Call(ctx, call)
	} else {
		err = call(ctx)
	}

	outcome := telemetry.OutcomeNotFound
	switch {
	case err != nil:
		outcome = telemetry.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res = search.Result{}
	case res.Found:
		outcome = telemetry.OutcomeFound
	}
	span.SetAttributes(attribute.String(telemetry.AttrOutcome, outcome))
	n.metrics.RecordPeerCall(ctx, p.Name, outcome)
	return res, err
}

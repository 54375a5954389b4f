// Copyright 2026 © The Hubnet Authors
// SPDX-License-Identifier: Apache-2.0

// Package requester acquires a set of needed items by searching hubs and
// transacting with the providers they return, round after round, until the
// need is met or no unseen hub is left.
package requester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jllopis/hubnet/pkg/hub"
	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/rank"
	"github.com/jllopis/hubnet/pkg/search"
	"github.com/jllopis/hubnet/pkg/telemetry"
)

// Need maps an item to the quantity still wanted.
type Need map[string]int

// Clone returns a copy without zero or negative entries.
func (n Need) Clone() Need {
	out := make(Need, len(n))
	for item, qty := range n {
		if qty > 0 {
			out[item] = qty
		}
	}
	return out
}

// Empty reports whether nothing is wanted.
func (n Need) Empty() bool {
	for _, qty := range n {
		if qty > 0 {
			return false
		}
	}
	return true
}

// Items returns wanted item names, sorted.
func (n Need) Items() []string {
	items := make([]string, 0, len(n))
	for item, qty := range n {
		if qty > 0 {
			items = append(items, item)
		}
	}
	sort.Strings(items)
	return items
}

// Prompt renders the need as search text.
func (n Need) Prompt() string {
	items := n.Items()
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprintf("%d %s", n[item], item)
	}
	return "I need " + strings.Join(parts, ", ")
}

// Searcher is a hub the requester can query.
type Searcher interface {
	Identity() identity.Node
	Search(ctx context.Context, q search.Query, st search.State) (search.Result, error)
}

// Transactor buys from a provider. It returns the quantity obtained per
// item, which may be less than asked.
type Transactor interface {
	Attempt(ctx context.Context, provider search.Provider, need Need) (map[string]int, error)
}

// Local adapts an in-process hub to Searcher.
type Local struct {
	Node *hub.Node
}

// Identity returns the hub identity.
func (l Local) Identity() identity.Node { return l.Node.Self() }

// Search runs the hub search; it never fails.
func (l Local) Search(ctx context.Context, q search.Query, st search.State) (search.Result, error) {
	return l.Node.Search(ctx, q, st), nil
}

// Attempt is one transaction in a session.
type Attempt struct {
	Round     int
	Hub       identity.Node
	Provider  identity.Node
	Fulfilled map[string]int
	Err       string
}

// Report summarises a session.
type Report struct {
	// Fulfilled holds quantities obtained, by provider key.
	Fulfilled map[string]map[string]int
	Remaining Need
	Rounds    int
	Tried     []Attempt
	// Hubs lists the hubs queried, in order.
	Hubs []identity.Node
}

// Complete reports whether the whole need was met.
func (r Report) Complete() bool { return r.Remaining.Empty() }

// Session runs acquisitions for one requester.
type Session struct {
	requester  identity.Node
	searchers  []Searcher
	transactor Transactor
	maxRounds  int
	metrics    *telemetry.HubMetrics
	logger     *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithMaxRounds stops after n rounds. n <= 0 means one per searcher.
func WithMaxRounds(n int) Option {
	return func(s *Session) { s.maxRounds = n }
}

// WithMetrics counts transactions.
func WithMetrics(m *telemetry.HubMetrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

var ErrNoTransactor = errors.New("requester: transactor is required")

// NewSession builds a session querying searchers in order.
func NewSession(requester identity.Node, tx Transactor, searchers []Searcher, opts ...Option) (*Session, error) {
	if tx == nil {
		return nil, ErrNoTransactor
	}
	s := &Session{
		requester:  requester,
		searchers:  append([]Searcher(nil), searchers...),
		transactor: tx,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = telemetry.Component("requester")
	}
	return s, nil
}

// Acquire runs rounds until need is met or no unseen searcher remains.
// Search and transaction failures are recorded and never abort the
// session; only a cancelled context stops it early.
func (s *Session) Acquire(ctx context.Context, need Need) (Report, error) {
	remaining := need.Clone()
	report := Report{Fulfilled: map[string]map[string]int{}}
	if remaining.Empty() {
		report.Remaining = remaining
		return report, nil
	}

	var seenHubs, seenProviders identity.Set
	for _, searcher := range s.searchers {
		if remaining.Empty() {
			break
		}
		if s.maxRounds > 0 && report.Rounds >= s.maxRounds {
			break
		}
		if err := ctx.Err(); err != nil {
			report.Remaining = remaining
			return report, err
		}
		hubID := searcher.Identity()
		if seenHubs.Contains(hubID) {
			continue
		}
		report.Rounds++
		round := report.Rounds
		log := s.logger.With(slog.Int("round", round), slog.String("hub", hubID.String()))

		q := search.NewQuery(remaining.Prompt(), s.requester)
		st := search.State{Visited: seenHubs, Blocked: seenProviders}
		res, err := searcher.Search(ctx, q, st)
		seenHubs = seenHubs.With(hubID)
		report.Hubs = append(report.Hubs, hubID)
		if err != nil {
			log.WarnContext(ctx, "requester.search.failed", slog.String("error", err.Error()))
			continue
		}
		if !res.Found {
			log.InfoContext(ctx, "requester.search.not_found", slog.String("message", res.Message))
			continue
		}

		for _, p := range rank.Sort(res.Providers) {
			if remaining.Empty() {
				break
			}
			if seenProviders.Contains(p.Identity) {
				continue
			}
			seenProviders = seenProviders.With(p.Identity)
			got, err := s.transactor.Attempt(ctx, p, remaining.Clone())
			attempt := Attempt{Round: round, Hub: hubID, Provider: p.Identity}
			if err != nil {
				attempt.Err = err.Error()
				report.Tried = append(report.Tried, attempt)
				s.metrics.RecordTransaction(ctx, p.Identity.Name, telemetry.OutcomeError)
				log.WarnContext(ctx, "requester.transaction.failed",
					slog.String("provider", p.Identity.String()),
					slog.String("error", err.Error()))
				continue
			}
			attempt.Fulfilled = apply(remaining, got)
			report.Tried = append(report.Tried, attempt)
			outcome := telemetry.OutcomeNotFound
			if len(attempt.Fulfilled) > 0 {
				outcome = telemetry.OutcomeFound
				report.Fulfilled[p.Identity.Key()] = merge(report.Fulfilled[p.Identity.Key()], attempt.Fulfilled)
			}
			s.metrics.RecordTransaction(ctx, p.Identity.Name, outcome)
			log.InfoContext(ctx, "requester.transaction.done",
				slog.String("provider", p.Identity.String()),
				slog.Any("fulfilled", attempt.Fulfilled))
		}
	}
	report.Remaining = remaining.Clone()
	return report, nil
}

// apply subtracts got from need, capped by what was wanted, and returns
// the quantities actually counted.
func apply(need Need, got map[string]int) map[string]int {
	counted := map[string]int{}
	for item, qty := range got {
		want := need[item]
		if qty <= 0 || want <= 0 {
			continue
		}
		if qty > want {
			qty = want
		}
		need[item] = want - qty
		if need[item] == 0 {
			delete(need, item)
		}
		counted[item] = qty
	}
	return counted
}

func merge(dst, src map[string]int) map[string]int {
	if dst == nil {
		dst = make(map[string]int, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HubMetrics records search and peer call counters. A nil *HubMetrics is
// valid and records nothing.
type HubMetrics struct {
	searches       metric.Int64Counter
	peerCalls      metric.Int64Counter
	searchDuration metric.Float64Histogram
	transactions   metric.Int64Counter
}

// NewHubMetrics creates the instruments on the global meter provider.
func NewHubMetrics() (*HubMetrics, error) {
	meter := otel.Meter("hubnet/hub")

	searches, err := meter.Int64Counter(
		"hubnet.search.total",
		metric.WithDescription("Searches handled by outcome"),
	)
	if err != nil {
		return nil, err
	}
	peerCalls, err := meter.Int64Counter(
		"hubnet.peer.calls",
		metric.WithDescription("Calls to peer hubs by peer and outcome"),
	)
	if err != nil {
		return nil, err
	}
	searchDuration, err := meter.Float64Histogram(
		"hubnet.search.duration_ms",
		metric.WithDescription("Search latency in milliseconds, peers included"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	transactions, err := meter.Int64Counter(
		"hubnet.transactions.total",
		metric.WithDescription("Purchase attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}
	return &HubMetrics{
		searches:       searches,
		peerCalls:      peerCalls,
		searchDuration: searchDuration,
		transactions:   transactions,
	}, nil
}

// RecordSearch counts one handled search.
func (m *HubMetrics) RecordSearch(ctx context.Context, hub, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHubName, hub),
		attribute.String(AttrOutcome, outcome),
	)
	m.searches.Add(ctx, 1, attrs)
	m.searchDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

// RecordPeerCall counts one forwarded search.
func (m *HubMetrics) RecordPeerCall(ctx context.Context, peer, outcome string) {
	if m == nil {
		return
	}
	m.peerCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPeerName, peer),
		attribute.String(AttrOutcome, outcome),
	))
}

// RecordTransaction counts one purchase attempt.
func (m *HubMetrics) RecordTransaction(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.transactions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPeerName, provider),
		attribute.String(AttrOutcome, outcome),
	))
}

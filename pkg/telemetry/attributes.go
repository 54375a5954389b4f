// Copyright 2026 © The Hubnet Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides logging, tracing and metrics for hubs.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for hub spans and metrics.
const (
	AttrHubName     = "hubnet.hub.name"
	AttrSearchID    = "hubnet.search.id"
	AttrSearchQuery = "hubnet.search.query"
	AttrOutcome     = "hubnet.outcome"
	AttrVisited     = "hubnet.search.visited_count"
	AttrBlocked     = "hubnet.search.blocked_count"
	AttrPeerName    = "hubnet.peer.name"
	AttrPeerAddr    = "hubnet.peer.addr"
	AttrProviders   = "hubnet.search.providers"
	AttrRequester   = "hubnet.requester.name"
)

// Outcome values recorded on searches and peer calls.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
)

// SearchAttributes returns span attributes describing a search hop.
func SearchAttributes(hub, searchID, query string, visited, blocked int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrHubName, hub),
		attribute.Int(AttrVisited, visited),
		attribute.Int(AttrBlocked, blocked),
	}
	if searchID != "" {
		attrs = append(attrs, attribute.String(AttrSearchID, searchID))
	}
	if query != "" {
		attrs = append(attrs, attribute.String(AttrSearchQuery, truncate(query, 256)))
	}
	return attrs
}

// PeerAttributes returns span attributes for a call to a peer hub.
func PeerAttributes(name, addr string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrPeerName, name),
		attribute.String(AttrPeerAddr, addr),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

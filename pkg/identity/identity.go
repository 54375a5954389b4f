// Copyright 2026 © The Hubnet Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity defines node identities shared by hubs and agents.
package identity

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
)

// Node uniquely identifies a hub or an agent in the network.
// Equality is structural: two Nodes are the same node iff Name, Host and
// Port are all equal.
type Node struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port string `json:"port"`
}

// New builds a Node, normalising surrounding whitespace.
func New(name, host, port string) Node {
	return Node{
		Name: strings.TrimSpace(name),
		Host: strings.TrimSpace(host),
		Port: strings.TrimSpace(port),
	}
}

// keyEscaper escapes the separators Key places between fields, so no
// field value can spill into its neighbour.
var keyEscaper = strings.NewReplacer("%", "%25", "@", "%40", ":", "%3A")

// Key returns a stable string form usable as a map key. Distinct nodes
// always have distinct keys.
func (n Node) Key() string {
	return keyEscaper.Replace(n.Name) + "@" + keyEscaper.Replace(n.Host) + ":" + keyEscaper.Replace(n.Port)
}

// Addr returns host:port.
func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, n.Port)
}

// BaseURL returns the http base URL of the node.
func (n Node) BaseURL() string {
	return "http://" + n.Addr()
}

// IsZero reports whether the node carries no identity at all.
func (n Node) IsZero() bool {
	return n.Name == "" && n.Host == "" && n.Port == ""
}

func (n Node) String() string {
	return n.Name + "@" + n.Addr()
}

// Validate checks the fields needed to reach the node.
func (n Node) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("identity: name is required")
	}
	if n.Host == "" {
		return fmt.Errorf("identity: host is required for %q", n.Name)
	}
	if _, err := strconv.Atoi(n.Port); err != nil {
		return fmt.Errorf("identity: invalid port %q for %q", n.Port, n.Name)
	}
	return nil
}

// Friend is the wire form of a Node: [name, [ip, port]].
// The port may be encoded as a JSON string or number.
type Friend Node

// MarshalJSON encodes the friend tuple with a numeric port when possible.
func (f Friend) MarshalJSON() ([]byte, error) {
	var port interface{} = f.Port
	if p, err := strconv.Atoi(f.Port); err == nil {
		port = p
	}
	return json.Marshal([]interface{}{f.Name, []interface{}{f.Host, port}})
}

// UnmarshalJSON decodes [name, [ip, port]].
func (f *Friend) UnmarshalJSON(data []byte) error {
	var outer []json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return fmt.Errorf("identity: friend must be an array: %w", err)
	}
	if len(outer) != 2 {
		return fmt.Errorf("identity: friend must have 2 elements, got %d", len(outer))
	}
	var name string
	if err := json.Unmarshal(outer[0], &name); err != nil {
		return fmt.Errorf("identity: friend name: %w", err)
	}
	var loc []json.RawMessage
	if err := json.Unmarshal(outer[1], &loc); err != nil || len(loc) != 2 {
		return fmt.Errorf("identity: friend location must be [ip, port]")
	}
	var host string
	if err := json.Unmarshal(loc[0], &host); err != nil {
		return fmt.Errorf("identity: friend ip: %w", err)
	}
	port, err := decodePort(loc[1])
	if err != nil {
		return err
	}
	*f = Friend(New(name, host, port))
	return nil
}

func decodePort(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return NormalizePort(n)
	}
	return "", fmt.Errorf("identity: friend port must be string or number, got %s", string(raw))
}

// NormalizePort renders a numeric JSON port as a plain integer, so 8011,
// 8011.0 and 8.011e3 all yield "8011". Fractional ports are rejected.
func NormalizePort(n json.Number) (string, error) {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return "", fmt.Errorf("identity: port must be an integer, got %s", n.String())
	}
	return strconv.FormatInt(int64(f), 10), nil
}

// Friends converts a set to its wire form, preserving order.
func Friends(s Set) []Friend {
	nodes := s.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	out := make([]Friend, len(nodes))
	for i, n := range nodes {
		out[i] = Friend(n)
	}
	return out
}

// FromFriends builds a set from the wire form.
func FromFriends(fs []Friend) Set {
	nodes := make([]Node, len(fs))
	for i, f := range fs {
		nodes[i] = Node(f)
	}
	return NewSet(nodes...)
}

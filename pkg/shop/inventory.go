// SPDX-License-Identifier: Apache-2.0

// Package shop is the purchase capability of a provider agent: a
// declarative description of what it sells and a purchase operation that
// fulfils as much of an order as the stock allows.
package shop

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Item is one sellable line.
type Item struct {
	Name      string  `json:"name" yaml:"name"`
	UnitPrice float64 `json:"unit_price" yaml:"unit_price"`
	Available int     `json:"available" yaml:"available"`
}

// Capability describes a shop.
type Capability struct {
	Name        string `json:"name" yaml:"name"`
	Category    string `json:"category" yaml:"category"`
	Description string `json:"description" yaml:"description"`
	Items       []Item `json:"items" yaml:"items"`
}

// LoadCapability reads a capability file.
func LoadCapability(path string) (Capability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Capability{}, fmt.Errorf("shop: read %s: %w", path, err)
	}
	var c Capability
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Capability{}, fmt.Errorf("shop: parse %s: %w", path, err)
	}
	return c, nil
}

// Inventory is the stock of a shop. Purchases are serialised.
type Inventory struct {
	mu    sync.Mutex
	info  Capability
	stock map[string]*Item
}

// NewInventory builds an inventory from c. Item names are matched
// case-insensitively; later duplicates add to the stock of the first.
func NewInventory(c Capability) (*Inventory, error) {
	inv := &Inventory{
		info:  Capability{Name: c.Name, Category: c.Category, Description: c.Description},
		stock: make(map[string]*Item, len(c.Items)),
	}
	for _, it := range c.Items {
		key := itemKey(it.Name)
		if key == "" {
			return nil, fmt.Errorf("shop: item without name")
		}
		if it.Available < 0 || it.UnitPrice < 0 {
			return nil, fmt.Errorf("shop: item %q has negative stock or price", it.Name)
		}
		if cur, ok := inv.stock[key]; ok {
			cur.Available += it.Available
			continue
		}
		copied := it
		inv.stock[key] = &copied
	}
	return inv, nil
}

// Capability returns the current description, items sorted by name.
func (inv *Inventory) Capability() Capability {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := inv.info
	out.Items = make([]Item, 0, len(inv.stock))
	for _, it := range inv.stock {
		out.Items = append(out.Items, *it)
	}
	sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].Name < out.Items[j].Name })
	return out
}

// Purchase takes up to the requested quantity of each item and returns
// what was taken and its total price. Unknown items are skipped.
func (inv *Inventory) Purchase(order map[string]int) (map[string]int, float64, error) {
	for name, qty := range order {
		if qty < 0 {
			return nil, 0, fmt.Errorf("shop: negative quantity for %q", name)
		}
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	taken := map[string]int{}
	total := 0.0
	for name, qty := range order {
		it, ok := inv.stock[itemKey(name)]
		if !ok || qty == 0 || it.Available == 0 {
			continue
		}
		n := min(qty, it.Available)
		it.Available -= n
		taken[name] = n
		total += float64(n) * it.UnitPrice
	}
	return taken, total, nil
}

func itemKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

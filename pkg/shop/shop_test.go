package shop

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jllopis/hubnet/pkg/errors"
	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/requester"
	"github.com/jllopis/hubnet/pkg/search"
)

func bakeryInventory(t *testing.T) *Inventory {
	t.Helper()
	inv, err := NewInventory(Capability{
		Name:     "Bakery1",
		Category: "Bakery",
		Items: []Item{
			{Name: "bread", UnitPrice: 1.5, Available: 3},
			{Name: "cake", UnitPrice: 10, Available: 1},
		},
	})
	if err != nil {
		t.Fatalf("NewInventory failed: %v", err)
	}
	return inv
}

func TestPurchasePartial(t *testing.T) {
	inv := bakeryInventory(t)
	taken, total, err := inv.Purchase(map[string]int{"Bread": 5, "cake": 1, "milk": 2})
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if taken["Bread"] != 3 || taken["cake"] != 1 || len(taken) != 2 {
		t.Fatalf("unexpected fulfilment: %v", taken)
	}
	if total != 14.5 {
		t.Fatalf("expected total 14.5, got %v", total)
	}
	taken, _, _ = inv.Purchase(map[string]int{"bread": 1})
	if len(taken) != 0 {
		t.Fatalf("expected empty stock, got %v", taken)
	}
	if _, _, err := inv.Purchase(map[string]int{"bread": -1}); err == nil {
		t.Fatalf("expected error for negative quantity")
	}
}

func TestPurchaseConcurrentNeverOversells(t *testing.T) {
	inv, _ := NewInventory(Capability{Items: []Item{{Name: "bread", Available: 50}}})
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			taken, _, _ := inv.Purchase(map[string]int{"bread": 3})
			mu.Lock()
			sold += taken["bread"]
			mu.Unlock()
		}()
	}
	wg.Wait()
	if sold != 50 {
		t.Fatalf("expected exactly 50 sold, got %d", sold)
	}
}

func TestNewInventoryValidates(t *testing.T) {
	if _, err := NewInventory(Capability{Items: []Item{{Name: " "}}}); err == nil {
		t.Fatalf("expected error for unnamed item")
	}
	if _, err := NewInventory(Capability{Items: []Item{{Name: "x", Available: -1}}}); err == nil {
		t.Fatalf("expected error for negative stock")
	}
	inv, err := NewInventory(Capability{Items: []Item{{Name: "bread", Available: 1}, {Name: "Bread", Available: 2}}})
	if err != nil {
		t.Fatalf("NewInventory failed: %v", err)
	}
	if items := inv.Capability().Items; len(items) != 1 || items[0].Available != 3 {
		t.Fatalf("expected duplicates merged, got %+v", items)
	}
}

func TestLoadCapability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bakery.yaml")
	body := `
name: Bakery1
category: Bakery
description: fresh bread
items:
  - name: bread
    unit_price: 1.25
    available: 12
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := LoadCapability(path)
	if err != nil {
		t.Fatalf("LoadCapability failed: %v", err)
	}
	if c.Name != "Bakery1" || len(c.Items) != 1 || c.Items[0].UnitPrice != 1.25 || c.Items[0].Available != 12 {
		t.Fatalf("unexpected capability: %+v", c)
	}
}

func TestHTTPRoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewHandler(bakeryInventory(t), nil))
	defer srv.Close()
	c := &Client{}
	ctx := context.Background()

	info, err := c.Capability(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Capability failed: %v", err)
	}
	if info.Name != "Bakery1" || len(info.Items) != 2 || info.Items[0].Name != "bread" {
		t.Fatalf("unexpected capability: %+v", info)
	}

	resp, err := c.Purchase(ctx, srv.URL, map[string]int{"bread": 2})
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if resp.Fulfilled["bread"] != 2 || resp.Total != 3 {
		t.Fatalf("unexpected purchase: %+v", resp)
	}

	_, err = c.Purchase(ctx, srv.URL, map[string]int{})
	if errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("expected 400 for an empty order, got %v", err)
	}

	raw, err := http.Post(srv.URL+"/purchase", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", raw.StatusCode)
	}
}

func TestClientIsTransactor(t *testing.T) {
	srv := httptest.NewServer(NewHandler(bakeryInventory(t), nil))
	defer srv.Close()
	host, port, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	p := search.Provider{Identity: identity.New("Bakery1", host, port)}

	var tx requester.Transactor = &Client{}
	got, err := tx.Attempt(context.Background(), p, requester.Need{"bread": 5})
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if got["bread"] != 3 {
		t.Fatalf("expected partial fulfilment of 3, got %v", got)
	}

	srv.Close()
	if _, err := tx.Attempt(context.Background(), p, requester.Need{"bread": 1}); errors.CodeOf(err) != errors.CodeTransport {
		t.Fatalf("expected transport error from a closed shop, got %v", err)
	}
}

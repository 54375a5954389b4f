package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/hubnet/pkg/config"
	"github.com/jllopis/hubnet/pkg/errors"
	"github.com/jllopis/hubnet/pkg/hub"
	"github.com/jllopis/hubnet/pkg/hub/httpapi"
	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/matcher"
	hubnetmcp "github.com/jllopis/hubnet/pkg/mcp"
	"github.com/jllopis/hubnet/pkg/registry"
	"github.com/jllopis/hubnet/pkg/shop"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := newRootCmd(&globalFlags{})
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func splitAddr(t *testing.T, url string) (string, string) {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(url, "http://"))
	if err != nil {
		t.Fatalf("split %s: %v", url, err)
	}
	return host, port
}

// startHub serves a keyword-matching hub over recs on a random port.
func startHub(t *testing.T, name string, recs ...registry.Record) (*hub.Node, string) {
	t.Helper()
	srv := httptest.NewUnstartedServer(nil)
	host, port, _ := net.SplitHostPort(srv.Listener.Addr().String())
	id := identity.New(name, host, port)
	store, err := registry.NewMemoryStore(recs...)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	node, err := hub.New(id, store, matcher.NewKeywordMatcher(), hub.WithPeerClient(httpapi.NewClient(id)))
	if err != nil {
		t.Fatalf("hub.New failed: %v", err)
	}
	srv.Config.Handler = httpapi.NewServer(node)
	srv.Start()
	t.Cleanup(srv.Close)
	return node, srv.URL
}

func TestParseNeed(t *testing.T) {
	tests := []struct {
		args    []string
		want    map[string]int
		wantErr bool
	}{
		{args: []string{"bread=2", "milk=1"}, want: map[string]int{"bread": 2, "milk": 1}},
		{args: []string{"cake"}, want: map[string]int{"cake": 1}},
		{args: []string{"bread=1", "bread=2"}, want: map[string]int{"bread": 3}},
		{args: []string{"bread=0"}, wantErr: true},
		{args: []string{"bread=x"}, wantErr: true},
		{args: []string{"=2"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseNeed(tt.args)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseNeed(%v) expected error", tt.args)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseNeed(%v) failed: %v", tt.args, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("parseNeed(%v) = %v, want %v", tt.args, got, tt.want)
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Fatalf("parseNeed(%v) = %v, want %v", tt.args, got, tt.want)
			}
		}
	}
}

func TestParseColumns(t *testing.T) {
	cols, err := parseColumns([]string{"Opening Hours=8-14", "Note=a=b"})
	if err != nil {
		t.Fatalf("parseColumns failed: %v", err)
	}
	if cols["Opening Hours"] != "8-14" || cols["Note"] != "a=b" {
		t.Fatalf("unexpected columns: %v", cols)
	}
	if _, err := parseColumns([]string{"novalue"}); errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestBuildMatcher(t *testing.T) {
	if m, err := buildMatcher(config.MatcherConfig{Kind: "keyword"}, config.LLMConfig{}); err != nil {
		t.Fatalf("keyword matcher failed: %v", err)
	} else if _, ok := m.(*matcher.KeywordMatcher); !ok {
		t.Fatalf("expected keyword matcher, got %T", m)
	}
	m, err := buildMatcher(config.MatcherConfig{Kind: "llm", MaxRows: 5}, config.LLMConfig{Provider: "mock"})
	if err != nil {
		t.Fatalf("llm matcher failed: %v", err)
	}
	if _, ok := m.(*matcher.LLMMatcher); !ok {
		t.Fatalf("expected llm matcher, got %T", m)
	}
	if _, err := buildMatcher(config.MatcherConfig{Kind: "llm"}, config.LLMConfig{Provider: "nope"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if _, err := buildMatcher(config.MatcherConfig{Kind: "oracle"}, config.LLMConfig{}); err == nil {
		t.Fatalf("expected error for unknown matcher")
	}
}

func TestLoadInventoryOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bakery.yaml")
	body := "name: Bakery1\ncategory: Bakery\nitems:\n  - name: bread\n    available: 4\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	inv, err := loadInventory(config.ShopConfig{InventoryFile: path, Name: "Bakery9"})
	if err != nil {
		t.Fatalf("loadInventory failed: %v", err)
	}
	c := inv.Capability()
	if c.Name != "Bakery9" || c.Category != "Bakery" || len(c.Items) != 1 {
		t.Fatalf("unexpected capability: %+v", c)
	}
}

func TestRegisterActivateSearch(t *testing.T) {
	_, url := startHub(t, "Hub1")

	out, err := execute(t, "register", "Bakery1", "--hub", url,
		"--port", "9001", "--category", "Bakery", "--description", "fresh bread", "--active")
	if err != nil {
		t.Fatalf("register failed: %v\n%s", err, out)
	}

	_, err = execute(t, "register", "Bakery1", "--hub", url, "--port", "9001")
	if errors.CodeOf(err) != errors.CodeAlreadyExists {
		t.Fatalf("expected already exists on second register, got %v", err)
	}

	out, err = execute(t, "search", "I need bread", "--hub", url, "--json")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	var res resultOutput
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode search output: %v\n%s", err, out)
	}
	if !res.Found || len(res.Agents) != 1 || res.Agents[0].Name != "Bakery1" {
		t.Fatalf("unexpected search output: %+v", res)
	}

	if out, err := execute(t, "activate", "Bakery1", "--hub", url, "--off"); err != nil {
		t.Fatalf("activate failed: %v\n%s", err, out)
	}
	out, err = execute(t, "search", "I need bread", "--hub", url)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !strings.HasPrefix(out, "Not Found") {
		t.Fatalf("expected Not Found after deactivation, got %q", out)
	}
}

func TestSearchUnreachableHub(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()
	_, err := execute(t, "search", "bread", "--hub", url)
	var ce *CLIError
	if err == nil || !asCLIError(err, &ce) || ce.Code != errors.CodeTransport {
		t.Fatalf("expected transport CLI error, got %v", err)
	}
	if !strings.Contains(ce.Hint, url) {
		t.Fatalf("expected hint naming %s, got %q", url, ce.Hint)
	}
}

func asCLIError(err error, target **CLIError) bool {
	ce, ok := err.(*CLIError)
	if ok {
		*target = ce
	}
	return ok
}

func TestAcquireAcrossHub(t *testing.T) {
	inv, err := shop.NewInventory(shop.Capability{Name: "Bakery1", Items: []shop.Item{{Name: "bread", UnitPrice: 1, Available: 5}}})
	if err != nil {
		t.Fatalf("NewInventory failed: %v", err)
	}
	shopSrv := httptest.NewServer(shop.NewHandler(inv, nil))
	defer shopSrv.Close()
	shopHost, shopPort := splitAddr(t, shopSrv.URL)

	node, hubURL := startHub(t, "Hub1", registry.Record{
		Identity:    identity.New("Bakery1", shopHost, shopPort),
		Kind:        registry.KindPublic,
		Category:    "Bakery",
		Description: "bread and cakes",
		Active:      true,
		Relevance:   1,
	})
	hubHost, hubPort := splitAddr(t, hubURL)
	hubs := fmt.Sprintf(`[{"name":%q,"host":%q,"port":%q}]`, node.Self().Name, hubHost, hubPort)

	out, err := execute(t, "acquire", "bread=2", "--json",
		"--set", "requester.use_local_registry=false",
		"--set", "requester.hubs="+hubs)
	if err != nil {
		t.Fatalf("acquire failed: %v\n%s", err, out)
	}
	var report reportOutput
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if !report.Complete || report.Rounds != 1 || len(report.Tried) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !strings.Contains(report.Tried[0].Provider, "Bakery1") || report.Tried[0].Fulfilled["bread"] != 2 {
		t.Fatalf("unexpected attempt: %+v", report.Tried[0])
	}
	if left := inv.Capability().Items[0].Available; left != 3 {
		t.Fatalf("expected 3 bread left in the shop, got %d", left)
	}
}

func TestMCPSearchThroughHub(t *testing.T) {
	_, hubURL := startHub(t, "Hub1", registry.Record{
		Identity:    identity.New("Bakery1", "10.0.0.7", "9001"),
		Kind:        registry.KindPublic,
		Category:    "Bakery",
		Description: "bread and cakes",
		Active:      true,
		Relevance:   1,
	})
	self := identity.New("mcp", "127.0.0.1", "0")
	searcher := httpapi.Endpoint{BaseURL: hubURL, Client: httpapi.NewClient(self)}
	mcpSrv := mcpserver.NewTestStreamableHTTPServer(hubnetmcp.NewServer("hubnet", "test", searcher, self).MCPServer())
	defer mcpSrv.Close()

	out, err := execute(t, "mcp", "search", "I need bread", "--url", mcpSrv.URL, "--json")
	if err != nil {
		t.Fatalf("mcp search failed: %v\n%s", err, out)
	}
	var res resultOutput
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode mcp search output: %v\n%s", err, out)
	}
	if !res.Found || len(res.Agents) != 1 || res.Agents[0].Address != "10.0.0.7:9001" {
		t.Fatalf("unexpected mcp search output: %+v", res)
	}
}

func TestMCPURL(t *testing.T) {
	cases := map[string]string{
		":8030":          "http://127.0.0.1:8030/mcp",
		"10.0.0.4:8030":  "http://10.0.0.4:8030/mcp",
		"localhost:9000": "http://localhost:9000/mcp",
	}
	for listen, want := range cases {
		if got := mcpURL(listen); got != want {
			t.Errorf("mcpURL(%q) = %q, want %q", listen, got, want)
		}
	}
}

func TestAcquireNeedsAHub(t *testing.T) {
	_, err := execute(t, "acquire", "bread", "--set", "requester.use_local_registry=false")
	if errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("expected invalid input without hubs, got %v", err)
	}
}

func TestRegistryImportExport(t *testing.T) {
	dir := t.TempDir()
	table := filepath.Join(dir, "agents.csv")
	csv := "Agent Name,IP Address,Port,Agent Type,Active,Description,relevance_rate,goodness_rate,Opening Hours\n" +
		"Bakery1,10.0.0.1,9001,Bakery,true,fresh bread,0.9,0.8,8-14\n"
	if err := os.WriteFile(table, []byte(csv), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	db := "--set=registry.path=" + filepath.Join(dir, "hub.db")

	out, err := execute(t, "registry", "import", table, "--set", "registry.backend=sqlite", db)
	if err != nil {
		t.Fatalf("import failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "imported 1 Public record(s)") {
		t.Fatalf("unexpected import output: %q", out)
	}

	out, err = execute(t, "registry", "export", "--set", "registry.backend=sqlite", db)
	if err != nil {
		t.Fatalf("export failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Bakery1,10.0.0.1,9001,Bakery,True,fresh bread,0.9,0.8,8-14") || !strings.Contains(out, "Opening Hours") {
		t.Fatalf("unexpected export:\n%s", out)
	}
}

package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/hubnet/pkg/errors"
	"github.com/jllopis/hubnet/pkg/hub"
	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/matcher"
	"github.com/jllopis/hubnet/pkg/registry"
	"github.com/jllopis/hubnet/pkg/search"
)

type testHub struct {
	id     identity.Node
	node   *hub.Node
	srv    *httptest.Server
	mu     sync.Mutex
	seenID []string
}

func (h *testHub) baseURL() string { return h.srv.URL }

func (h *testHub) searchIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seenID...)
}

// startHub runs a hub on a loopback listener. Its identity is the listener
// address, so peers can reach it from the registry.
func startHub(t *testing.T, name string, admission Admission, recs ...registry.Record) *testHub {
	t.Helper()
	srv := httptest.NewUnstartedServer(nil)
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split listener addr: %v", err)
	}
	id := identity.New(name, host, port)
	store, err := registry.NewMemoryStore(recs...)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	node, err := hub.New(id, store, matcher.NewKeywordMatcher(), hub.WithPeerClient(NewClient(id)))
	if err != nil {
		t.Fatalf("hub.New failed: %v", err)
	}
	h := &testHub{id: id, node: node, srv: srv}
	api := NewServer(node, WithAdmission(admission))
	srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search_agent" {
			h.mu.Lock()
			h.seenID = append(h.seenID, r.Header.Get(SearchIDHeader))
			h.mu.Unlock()
		}
		api.ServeHTTP(w, r)
	})
	srv.Start()
	t.Cleanup(srv.Close)
	return h
}

func addPeer(t *testing.T, h *testHub, peer identity.Node) {
	t.Helper()
	rec := registry.Record{Identity: peer, Kind: registry.KindHub, Active: true}
	if err := h.node.Store().Add(context.Background(), rec); err != nil {
		t.Fatalf("add peer: %v", err)
	}
}

var bakeryColumns = map[string]string{
	"Port":           "9001",
	"Agent Type":     "Bakery",
	"Active":         "True",
	"Description":    "fresh bread every morning",
	"relevance_rate": "2",
	"goodness_rate":  "4",
	"Owner":          "Ana",
}

func client() *Client {
	return NewClient(identity.New("Client", "127.0.0.1", "9000"))
}

func query(text string) search.Query {
	return search.NewQuery(text, identity.New("Client", "127.0.0.1", "9000"))
}

func TestBakeryEndToEnd(t *testing.T) {
	ctx := context.Background()
	a := startHub(t, "Hub1", AdmissionOpen)
	b := startHub(t, "Hub2", AdmissionOpen)
	addPeer(t, a, b.id)
	c := client()

	if err := c.Register(ctx, b.baseURL(), "Bakery1", registry.KindPublic, bakeryColumns); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	recs, _ := b.node.Store().List(ctx, registry.KindPublic)
	if len(recs) != 1 || recs[0].Extra["Owner"] != "Ana" || recs[0].Relevance != 2 {
		t.Fatalf("unexpected stored record: %+v", recs)
	}

	q := query("I need bread")
	res, err := c.SearchURL(ctx, a.baseURL(), q, search.State{})
	if err != nil {
		t.Fatalf("SearchURL failed: %v", err)
	}
	if !res.Found || len(res.Providers) != 1 {
		t.Fatalf("expected Bakery1 found through Hub1, got %+v", res)
	}
	got := res.Providers[0]
	if got.Identity.Name != "Bakery1" || got.Identity.Port != "9001" || got.Goodness != 4 {
		t.Fatalf("unexpected provider: %+v", got)
	}
	if ids := b.searchIDs(); len(ids) != 1 || ids[0] != q.ID {
		t.Fatalf("expected search id forwarded to Hub2, got %v", ids)
	}

	if err := c.SetActivation(ctx, b.baseURL(), "Bakery1", false, "9001"); err != nil {
		t.Fatalf("SetActivation failed: %v", err)
	}
	res, err = c.SearchURL(ctx, a.baseURL(), query("I need bread"), search.State{})
	if err != nil {
		t.Fatalf("SearchURL failed: %v", err)
	}
	if res.Found {
		t.Fatalf("expected NotFound after deactivation, got %+v", res.Providers)
	}
	if !res.Visited.Contains(a.id) || !res.Visited.Contains(b.id) {
		t.Fatalf("expected both hubs reported visited, got %v", res.Visited.Nodes())
	}
}

func TestAddAgentStatusCodes(t *testing.T) {
	ctx := context.Background()
	h := startHub(t, "Hub1", AdmissionOpen)
	c := client()

	if err := c.Register(ctx, h.baseURL(), "Bakery1", registry.KindPublic, bakeryColumns); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := c.Register(ctx, h.baseURL(), "Bakery1", registry.KindPrivate, bakeryColumns); err != nil {
		t.Fatalf("expected the same agent to register in another partition, got %v", err)
	}
	err := c.Register(ctx, h.baseURL(), "Bakery1", registry.KindPublic, bakeryColumns)
	if errors.CodeOf(err) != errors.CodeAlreadyExists {
		t.Fatalf("expected 409 for a known name and host in the same partition, got %v", err)
	}
	if err := c.Register(ctx, h.baseURL(), "Bakery1", registry.KindHub, map[string]string{"Port": "8010"}); err != nil {
		t.Fatalf("expected a hub registration alongside agent rows, got %v", err)
	}

	resp, err := http.Post(h.baseURL()+"/add_agent?name_agent=X&type_agent=Vendor", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad type, got %d", resp.StatusCode)
	}

	err = c.Register(ctx, h.baseURL(), "Bakery2", registry.KindPublic, map[string]string{"relevance_rate": "high"})
	if errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("expected 400 for a bad score, got %v", err)
	}
}

func TestActivationUnknownAgent(t *testing.T) {
	h := startHub(t, "Hub1", AdmissionOpen)
	err := client().SetActivation(context.Background(), h.baseURL(), "Nobody", true, "")
	if errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("expected 400 for an unknown agent, got %v", err)
	}

	req, _ := http.NewRequest(http.MethodPut, h.baseURL()+"/activation_status?name_agent=X&boolean=maybe", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad boolean, got %d", resp.StatusCode)
	}
}

func TestKnownAdmission(t *testing.T) {
	ctx := context.Background()
	h := startHub(t, "Hub1", AdmissionKnown,
		registry.Record{Identity: identity.New("Client", "127.0.0.1", "9000"), Kind: registry.KindHub, Active: false})

	stranger := NewClient(identity.New("Stranger", "127.0.0.1", "9000"))
	_, err := stranger.SearchURL(ctx, h.baseURL(), query("bread"), search.State{})
	if errors.CodeOf(err) != errors.CodeUnauthorized {
		t.Fatalf("expected 403 for an unknown requester, got %v", err)
	}

	res, err := client().SearchURL(ctx, h.baseURL(), query("bread"), search.State{})
	if err != nil {
		t.Fatalf("expected known requester admitted, got %v", err)
	}
	if res.Found {
		t.Fatalf("expected NotFound from an empty hub")
	}
}

func TestSearchRequiresPrompt(t *testing.T) {
	h := startHub(t, "Hub1", AdmissionOpen)
	resp, err := http.Post(h.baseURL()+"/search_agent?name_agent=x", "application/json", nil)
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without prompt, got %d", resp.StatusCode)
	}
}

func TestSearchWireFormat(t *testing.T) {
	rec := registry.Record{
		Identity:  identity.New("Bakery1", "10.0.0.9", "9001"),
		Kind:      registry.KindPublic,
		Category:  "Bakery",
		Active:    true,
		Relevance: 1,
		Goodness:  5,
	}
	h := startHub(t, "Hub1", AdmissionOpen, rec)

	body := `{"hub_user_search":[["Hub9",["10.0.0.1",8010]]],"agent_block":null}`
	resp, err := http.Post(h.baseURL()+"/search_agent?prompt=bakery&name_agent=Hub9", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out["status"] != StatusFind {
		t.Fatalf("expected Find, got %v", out)
	}
	agents := out["agents"].([]any)
	agent := agents[0].(map[string]any)
	loc := agent["location"].(map[string]any)
	if agent["name"] != "Bakery1" || loc["ip"] != "10.0.0.9" || loc["port"] != float64(9001) {
		t.Fatalf("unexpected agent: %v", agent)
	}
	if agent["relevance_rate"] != float64(1) || agent["goodness_rate"] != float64(5) {
		t.Fatalf("unexpected scores: %v", agent)
	}
}

func TestClientProtocolViolations(t *testing.T) {
	replies := []string{
		`{"status":"Maybe"}`,
		`{"status":"Find","agents":[]}`,
		`{"status":"Find","agents":[{"name":"","location":{"ip":"","port":1}}]}`,
		`not json`,
	}
	for _, reply := range replies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(reply))
		}))
		_, err := client().SearchURL(context.Background(), srv.URL, query("bread"), search.State{})
		srv.Close()
		if errors.CodeOf(err) != errors.CodeProtocol {
			t.Fatalf("reply %s: expected protocol error, got %v", reply, err)
		}
	}
}

func TestClientUnreachableIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := client().SearchURL(context.Background(), url, query("bread"), search.State{})
	if errors.CodeOf(err) != errors.CodeTransport || !errors.IsRecoverable(err) {
		t.Fatalf("expected recoverable transport error, got %v", err)
	}
}

func TestClientPropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		_, _ = w.Write([]byte(`{"status":"Not Found","message":"none"}`))
	}))
	defer srv.Close()

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	if _, err := client().SearchURL(ctx, srv.URL, query("bread"), search.State{}); err != nil {
		t.Fatalf("SearchURL failed: %v", err)
	}
	if !strings.Contains(traceparent, sc.TraceID().String()) {
		t.Fatalf("expected traceparent with trace id, got %q", traceparent)
	}
}

func TestPortCodec(t *testing.T) {
	var loc locationJSON
	if err := json.Unmarshal([]byte(`{"ip":"h","port":"8010"}`), &loc); err != nil || loc.Port != "8010" {
		t.Fatalf("string port: %v %q", err, loc.Port)
	}
	if err := json.Unmarshal([]byte(`{"ip":"h","port":8011}`), &loc); err != nil || loc.Port != "8011" {
		t.Fatalf("numeric port: %v %q", err, loc.Port)
	}
	if err := json.Unmarshal([]byte(`{"ip":"h","port":8012.0}`), &loc); err != nil || loc.Port != "8012" {
		t.Fatalf("float-formatted port: %v %q", err, loc.Port)
	}
	if err := json.Unmarshal([]byte(`{"ip":"h","port":80.5}`), &loc); err == nil {
		t.Fatalf("expected fractional port to be rejected")
	}
	data, _ := json.Marshal(locationJSON{IP: "h", Port: "x1"})
	if string(data) != `{"ip":"h","port":"x1"}` {
		t.Fatalf("non-numeric port should stay a string, got %s", data)
	}
}

func TestParseAdmission(t *testing.T) {
	if a, err := ParseAdmission(""); err != nil || a != AdmissionOpen {
		t.Fatalf("expected open default, got %q %v", a, err)
	}
	if a, err := ParseAdmission("Known"); err != nil || a != AdmissionKnown {
		t.Fatalf("expected known, got %q %v", a, err)
	}
	if _, err := ParseAdmission("closed"); err == nil {
		t.Fatalf("expected error")
	}
}

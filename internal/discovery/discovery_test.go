package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"qaforge/internal/pipeline"
	"qaforge/internal/types"
)

const loginPage = `<html><body>
<a href="/about">About us</a>
<form id="login" action="/login" method="post">
  <input type="text" name="email" placeholder="Email">
  <input type="password" name="password">
  <input type="hidden" name="csrf" value="x">
  <button type="submit">Sign in</button>
</form>
</body></html>`

func testServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(loginPage))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/">Home</a></body></html>`))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestHTTPProbeExtractsSurface(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	prober := NewHTTPProber(5*time.Second, 4, 5)
	surface, err := prober.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	var kinds = map[string]int{}
	for _, el := range surface.Elements {
		kinds[el.Kind]++
	}
	if kinds["form"] == 0 {
		t.Error("expected a form element")
	}
	if kinds["button"] == 0 {
		t.Error("expected a button element")
	}
	// Hidden inputs are noise, visible ones matter.
	if kinds["input"] != 2 {
		t.Errorf("expected 2 visible inputs, got %d", kinds["input"])
	}

	var foundLogin, foundHealth bool
	for _, ep := range surface.Endpoints {
		if ep.Method == "POST" && ep.Path == "/login" {
			foundLogin = true
		}
		if ep.Path == "/health" && ep.StatusCode == http.StatusOK {
			foundHealth = true
		}
	}
	if !foundLogin {
		t.Errorf("form action not captured as endpoint: %+v", surface.Endpoints)
	}
	if !foundHealth {
		t.Errorf("health endpoint not probed: %+v", surface.Endpoints)
	}
	if len(surface.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", surface.Warnings)
	}
}

func TestProbeUnreachableTarget(t *testing.T) {
	prober := NewHTTPProber(500*time.Millisecond, 2, 2)
	if _, err := prober.Probe(context.Background(), "http://127.0.0.1:1"); err == nil {
		t.Fatal("expected error for unreachable target")
	}
}

func TestParseSpec(t *testing.T) {
	spec := `openapi: "3.0.0"
info:
  title: Orders API
paths:
  /orders:
    get:
      summary: List orders
    post:
      summary: Create order
      security:
        - bearerAuth: []
  /orders/{id}:
    parameters:
      - name: id
        in: path
    delete:
      summary: Delete order
`
	path := filepath.Join(t.TempDir(), "spec.yaml")
	if err := os.WriteFile(path, []byte(spec), 0644); err != nil {
		t.Fatal(err)
	}

	eps, err := ParseSpec(path)
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if len(eps) != 3 {
		t.Fatalf("expected 3 endpoints, got %d: %+v", len(eps), eps)
	}
	for _, ep := range eps {
		if !ep.FromSpec {
			t.Errorf("%s %s: expected FromSpec", ep.Method, ep.Path)
		}
	}
	var createOrder *types.Endpoint
	for i := range eps {
		if eps[i].Method == "POST" {
			createOrder = &eps[i]
		}
	}
	if createOrder == nil || !createOrder.RequiresAuth {
		t.Errorf("POST /orders should require auth: %+v", createOrder)
	}
}

func TestParseSpecRejectsNonSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notaspec.yaml")
	os.WriteFile(path, []byte("foo: bar\n"), 0644)
	if _, err := ParseSpec(path); err == nil {
		t.Fatal("expected error for non-OpenAPI document")
	}
}

func discoveryContext(t *testing.T, target pipeline.TargetDescriptor) *pipeline.Context {
	t.Helper()
	rc := pipeline.NewContext()
	err := rc.Publish(pipeline.PartitionConfig, pipeline.RunConfig{
		Mode:   types.ModeDiscovery,
		Target: &target,
	})
	if err != nil {
		t.Fatal(err)
	}
	return rc
}

func TestDiscoverDerivesFeatures(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	d := New(NewHTTPProber(5*time.Second, 4, 5), nil, nil)
	rc := discoveryContext(t, pipeline.TargetDescriptor{BaseURL: srv.URL})

	value, err := d.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	fs := value.(*types.FeatureSet)
	if fs.Surface == nil {
		t.Fatal("surface not attached")
	}
	if len(fs.Features) == 0 {
		t.Fatal("no features derived")
	}

	var loginWorkflow, authFeature bool
	for _, f := range fs.Features {
		if f.Source != types.SourceDiscovered {
			t.Errorf("feature %q: expected /discovered source", f.Name)
		}
		if f.Name == "Login workflow" {
			loginWorkflow = true
		}
		if f.Category == "authentication" {
			authFeature = true
		}
	}
	if !loginWorkflow {
		t.Errorf("password form should yield a login workflow: %+v", fs.Features)
	}
	if !authFeature {
		t.Error("expected at least one authentication-categorized feature")
	}
}

func TestUnreachableTargetIsFatal(t *testing.T) {
	d := New(NewHTTPProber(500*time.Millisecond, 2, 2), nil, nil)
	rc := discoveryContext(t, pipeline.TargetDescriptor{BaseURL: "http://127.0.0.1:1"})

	_, err := d.Invoke(context.Background(), rc)
	if !pipeline.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestPartialDiscoveryDegrades(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	d := New(NewHTTPProber(5*time.Second, 4, 5), nil, nil)
	rc := discoveryContext(t, pipeline.TargetDescriptor{
		BaseURL:  srv.URL,
		SpecPath: "/nonexistent/spec.yaml",
	})

	value, err := d.Invoke(context.Background(), rc)
	if !pipeline.IsDegraded(err) {
		t.Fatalf("expected degraded error for failed spec parse, got %v", err)
	}
	fs := value.(*types.FeatureSet)
	if len(fs.Features) == 0 {
		t.Fatal("partial discovery should still yield features")
	}
	if len(fs.Surface.Warnings) == 0 {
		t.Error("expected a warning on the surface")
	}
}

func TestDeriveFeaturesDedupes(t *testing.T) {
	surface := &types.DiscoveredSurface{
		Endpoints: []types.Endpoint{
			{Method: "GET", Path: "/users", FromSpec: true, Summary: "List users"},
			{Method: "GET", Path: "/users"},
		},
		Workflows: []types.Workflow{{Name: "Login", Steps: []string{"a", "b"}}},
	}
	features := DeriveFeatures(surface)

	names := make(map[string]int)
	for _, f := range features {
		names[f.Name]++
	}
	if names["GET /users"] != 1 {
		t.Errorf("duplicate endpoint features: %+v", features)
	}
	for i, f := range features {
		if f.Ordinal != i {
			t.Errorf("feature %d: ordinal %d", i, f.Ordinal)
		}
	}
}

func TestSourceScannerFindsDeclarations(t *testing.T) {
	dir := t.TempDir()
	src := `package demo

func ProcessPayment(amount int) error {
	if amount <= 0 {
		return nil
	}
	return nil
}

type Ledger struct {
	entries []int
}
`
	if err := os.WriteFile(filepath.Join(dir, "pay.go"), []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	hints, err := NewSourceScanner().Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var foundFunc, foundType bool
	for _, h := range hints {
		if h.Kind == "function" && h.Name == "ProcessPayment" {
			foundFunc = true
		}
		if h.Kind == "class" && h.Name == "Ledger" {
			foundType = true
		}
	}
	if !foundFunc {
		t.Errorf("function declaration not found: %+v", hints)
	}
	if !foundType {
		t.Errorf("type declaration not found: %+v", hints)
	}
}

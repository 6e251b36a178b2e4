package client

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/gateway"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/server"
)

// startTestServer creates a server and returns its address and registry.
func startTestServer(t *testing.T) (string, *gateway.Registry) {
	t.Helper()

	reg := gateway.NewRegistry(gateway.Options{Budget: 100}, func(g *gateway.Gateway) error {
		return g.Initialize(map[string]any{"temp": 0.5}, []aibom.Model{{Name: "Llama3", Version: "1.0", Hash: "h123"}})
	})
	srv := server.New(server.Config{}, reg, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)
	t.Cleanup(srv.GracefulStop)

	return lis.Addr().String(), reg
}

func newClient(t *testing.T, addr, agent string) *Client {
	t.Helper()
	c, err := New(addr, agent)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientExecuteAllowed(t *testing.T) {
	addr, _ := startTestServer(t)
	c := newClient(t, addr, "agent-1")

	rec, err := c.Execute(context.Background(), model.Action{
		Kind: model.KindFileRead, Attributes: map[string]any{"path": "docs/readme.md"}, Cost: 10,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !rec.Allowed() {
		t.Errorf("expected allow, got %s: %s", rec.Outcome, rec.Reason)
	}
}

func TestClientQuotaScenario(t *testing.T) {
	addr, _ := startTestServer(t)
	c := newClient(t, addr, "agent-1")
	ctx := context.Background()

	c.Execute(ctx, model.Action{Kind: model.KindFileRead, Attributes: map[string]any{"path": "a"}, Cost: 60})
	rec, err := c.Execute(ctx, model.Action{Kind: model.KindFileRead, Attributes: map[string]any{"path": "b"}, Cost: 50})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Allowed() || rec.Reason != gateway.ReasonQuotaExceeded {
		t.Errorf("expected quota denial, got %+v", rec)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Breaker.ConsecutiveFailures != 1 || st.Usage != 110 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestClientCheckAndReport(t *testing.T) {
	addr, _ := startTestServer(t)
	c := newClient(t, addr, "agent-1")
	ctx := context.Background()

	d, err := c.Check(ctx, model.Action{Kind: model.KindNetworkRequest, Attributes: map[string]any{"destination": "evil.com"}})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Denied() || d.Rule != "RestrictedNetwork" {
		t.Errorf("unexpected decision %+v", d)
	}

	r, err := c.Report(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if r.AgentID != "agent-1" || r.Components.Models[0].Name != "Llama3" {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestClientInvalidAction(t *testing.T) {
	addr, _ := startTestServer(t)
	c := newClient(t, addr, "agent-1")

	_, err := c.Execute(context.Background(), model.Action{Kind: model.KindFileRead, Cost: -5})
	if !errors.Is(err, model.ErrInvalidAction) {
		t.Errorf("expected ErrInvalidAction, got %v", err)
	}
}

func TestClientClosedGateway(t *testing.T) {
	addr, reg := startTestServer(t)
	c := newClient(t, addr, "agent-1")
	ctx := context.Background()

	c.Execute(ctx, model.Action{Kind: model.KindFileRead, Attributes: map[string]any{"path": "a"}})
	g, _ := reg.Lookup("agent-1")
	dst, _ := aibom.OpenDestination(ctx, filepath.Join(t.TempDir(), "r.json"))
	if err := g.Shutdown(ctx, dst); err != nil {
		t.Fatal(err)
	}

	_, err := c.Execute(ctx, model.Action{Kind: model.KindFileRead, Attributes: map[string]any{"path": "a"}})
	if !errors.Is(err, gateway.ErrGatewayClosed) {
		t.Errorf("expected ErrGatewayClosed, got %v", err)
	}
}

func TestClientFailClosedUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := lis.Addr().String()
	lis.Close()

	c := newClient(t, addr, "agent-1")
	c.Timeout = 500 * time.Millisecond

	rec, err := c.Execute(context.Background(), model.Action{Kind: model.KindFileRead, Attributes: map[string]any{"path": "a"}})
	if err != nil {
		t.Fatalf("fail-closed should not return an error: %v", err)
	}
	if rec.Allowed() {
		t.Fatal("unreachable gateway must deny")
	}
	if !strings.HasPrefix(rec.Reason, ReasonUnreachable) {
		t.Errorf("unexpected reason %q", rec.Reason)
	}
}

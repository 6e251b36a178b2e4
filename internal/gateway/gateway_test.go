package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/events"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/policy"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newGateway(t *testing.T, opts Options) (*Gateway, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	if opts.AgentID == "" {
		opts.AgentID = "agent-1"
	}
	if opts.Version == "" {
		opts.Version = "0.1.0"
	}
	if opts.Sink == nil {
		opts.Sink = rec
	}
	g, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.Initialize(map[string]any{"temp": 0.5}, []aibom.Model{{Name: "Llama3", Version: "1.0", Hash: "h123"}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return g, rec
}

func shell(cmd string) model.Action {
	return model.Action{Kind: model.KindShellExec, Attributes: map[string]any{"command": cmd}}
}

func read(path string, cost int64) model.Action {
	return model.Action{Kind: model.KindFileRead, Attributes: map[string]any{"path": path}, Cost: cost}
}

func TestBreakerTripsAfterRepeatedViolations(t *testing.T) {
	g, _ := newGateway(t, Options{Breaker: breaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute}})

	for i := 0; i < 2; i++ {
		rec, err := g.Execute(shell("rm -rf /"))
		if err != nil {
			t.Fatal(err)
		}
		if rec.Allowed() || rec.Reason != "policy violation: NoShellExecution" {
			t.Fatalf("attempt %d: expected policy denial, got %+v", i, rec)
		}
		if rec.Rule != "NoShellExecution" {
			t.Errorf("expected rule name on record, got %q", rec.Rule)
		}
	}

	rec, err := g.Execute(read("docs/readme.md", 1))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Allowed() || rec.Reason != ReasonBreakerOpen {
		t.Fatalf("expected breaker open denial, got %+v", rec)
	}
	if rec.BreakerState != string(breaker.Open) {
		t.Errorf("expected OPEN on record, got %s", rec.BreakerState)
	}

	records := g.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[1].BreakerState != string(breaker.Open) {
		t.Errorf("second denial should observe the trip, got %s", records[1].BreakerState)
	}
}

func TestQuotaExceededCountsAsFailure(t *testing.T) {
	g, _ := newGateway(t, Options{Budget: 100})

	ok, err := g.ExecuteAction(read("docs/a.md", 60))
	if err != nil || !ok {
		t.Fatalf("first read should pass: %v %v", ok, err)
	}

	rec, err := g.Execute(read("docs/b.md", 50))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Allowed() || rec.Reason != ReasonQuotaExceeded {
		t.Fatalf("expected quota denial, got %+v", rec)
	}
	if rec.CumulativeUsage != 110 {
		t.Errorf("expected usage 110, got %d", rec.CumulativeUsage)
	}

	st := g.Status()
	if st.Breaker.ConsecutiveFailures != 1 {
		t.Errorf("expected 1 breaker failure, got %d", st.Breaker.ConsecutiveFailures)
	}
	if st.Breaker.LastFailureReason != ReasonQuotaExceeded {
		t.Errorf("unexpected failure reason %q", st.Breaker.LastFailureReason)
	}
	if st.Allowed != 1 || st.Denied != 1 || st.Decisions != 2 {
		t.Errorf("unexpected status counts: %+v", st)
	}
}

func TestBreakerOpenSkipsQuotaAndPolicy(t *testing.T) {
	g, _ := newGateway(t, Options{Budget: 100, Breaker: breaker.Config{FailureThreshold: 1}})

	g.Execute(shell("ls"))
	before := g.Status().Usage

	rec, _ := g.Execute(read("docs/a.md", 50))
	if rec.Reason != ReasonBreakerOpen {
		t.Fatalf("expected breaker open, got %q", rec.Reason)
	}
	if g.Status().Usage != before {
		t.Error("usage must not be tracked while the breaker is open")
	}
	if g.Status().Breaker.ConsecutiveFailures != 1 {
		t.Error("breaker-open denial must not count as a failure")
	}
}

func TestHalfOpenProbe(t *testing.T) {
	clock := newFakeClock()
	g, rec := newGateway(t, Options{
		Breaker: breaker.Config{FailureThreshold: 1, ResetTimeout: 10 * time.Second},
		Clock:   clock.Now,
	})

	g.Execute(shell("ls"))
	clock.Advance(11 * time.Second)

	r, err := g.Execute(read("docs/a.md", 1))
	if err != nil {
		t.Fatal(err)
	}
	if !r.Allowed() || r.BreakerState != string(breaker.Closed) {
		t.Fatalf("probe should pass and close the breaker, got %+v", r)
	}

	var transitions []string
	for _, e := range rec.Events() {
		if e.Type == events.TypeBreaker {
			transitions = append(transitions, e.Details["from"]+"->"+e.BreakerState)
		}
	}
	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestAllowedRecord(t *testing.T) {
	clock := newFakeClock()
	g, rec := newGateway(t, Options{Clock: clock.Now, NewID: func() string { return "rec-1" }})

	r, err := g.Execute(read("docs/readme.md", 5))
	if err != nil {
		t.Fatal(err)
	}
	if r.ID != "rec-1" || r.AgentID != "agent-1" || !r.Timestamp.Equal(clock.Now()) {
		t.Errorf("unexpected record identity: %+v", r)
	}
	if r.Reason != "no deny rule matched" || r.CumulativeUsage != 5 {
		t.Errorf("unexpected allowed record: %+v", r)
	}

	evs := rec.Events()
	if len(evs) != 1 || evs[0].Type != events.TypeDecision || evs[0].RecordID != "rec-1" {
		t.Fatalf("expected one decision event, got %+v", evs)
	}
}

func TestActionIsSnapshotted(t *testing.T) {
	g, _ := newGateway(t, Options{})
	a := read("docs/a.md", 1)
	g.Execute(a)
	a.Attributes["path"] = "/etc/passwd"

	if got := g.Records()[0].Action.Attributes["path"]; got != "docs/a.md" {
		t.Errorf("record mutated through caller's map: %v", got)
	}
}

func TestInvalidActionRejected(t *testing.T) {
	g, rec := newGateway(t, Options{})
	_, err := g.Execute(model.Action{Kind: "teleport"})
	if !errors.Is(err, model.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	if len(g.Records()) != 0 || len(rec.Events()) != 0 {
		t.Error("invalid actions must not produce records")
	}
}

func TestExecuteBeforeInitialize(t *testing.T) {
	g, err := New(Options{AgentID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Execute(read("docs/a.md", 1)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error for missing agent id")
	}
	if _, err := New(Options{AgentID: "a", Budget: -1}); err == nil {
		t.Error("expected error for negative budget")
	}
	if _, err := New(Options{AgentID: "a", Breaker: breaker.Config{FailureThreshold: -1}}); err == nil {
		t.Error("expected error for negative threshold")
	}
	dup := policy.Rule{Name: "x", Predicate: policy.KindIs{Kinds: []model.Kind{model.KindShellExec}}, Effect: model.EffectDeny}
	if _, err := New(Options{AgentID: "a", Rules: []policy.Rule{dup, dup}}); !errors.Is(err, policy.ErrDuplicateRuleName) {
		t.Errorf("expected duplicate rule error, got %v", err)
	}
}

func TestEmptyRuleSetAllowsEverything(t *testing.T) {
	g, _ := newGateway(t, Options{Rules: []policy.Rule{}})
	ok, err := g.ExecuteAction(shell("rm -rf /"))
	if err != nil || !ok {
		t.Errorf("expected allow with no rules, got %v %v", ok, err)
	}
}

func TestReinitializeReplacesFingerprint(t *testing.T) {
	g, rec := newGateway(t, Options{})
	first := g.Report().Integrity.ConfigHash

	if err := g.Initialize(map[string]any{"temp": 0.9}, nil); err != nil {
		t.Fatal(err)
	}
	second := g.Report().Integrity.ConfigHash
	if first == second {
		t.Fatal("expected a new fingerprint")
	}

	var found bool
	for _, e := range rec.Events() {
		if e.Type == events.TypeReinitialize {
			found = true
			if e.Details["previous_hash"] != first || e.Details["config_hash"] != second {
				t.Errorf("unexpected reinitialize details: %v", e.Details)
			}
		}
	}
	if !found {
		t.Error("expected a reinitialize event")
	}
}

func TestCheckHasNoSideEffects(t *testing.T) {
	g, rec := newGateway(t, Options{Breaker: breaker.Config{FailureThreshold: 1}})

	d := g.Check(shell("ls"))
	if !d.Denied() || d.Rule != "NoShellExecution" {
		t.Errorf("unexpected decision %+v", d)
	}
	if g.Status().Breaker.State != breaker.Closed || len(g.Records()) != 0 || len(rec.Events()) != 0 {
		t.Error("Check must not touch breaker, records or events")
	}
}

func TestReplaceRules(t *testing.T) {
	g, rec := newGateway(t, Options{})
	networkOnly := []policy.Rule{{
		Name:      "NoNetwork",
		Predicate: policy.KindIs{Kinds: []model.Kind{model.KindNetworkRequest}},
		Effect:    model.EffectDeny,
	}}
	if err := g.ReplaceRules(networkOnly); err != nil {
		t.Fatal(err)
	}
	if ok, _ := g.ExecuteAction(shell("ls")); !ok {
		t.Error("shell should be allowed after replacing rules")
	}
	last := rec.Events()
	var replaced bool
	for _, e := range last {
		if e.Type == events.TypeRulesReplaced && e.Details["rules"] == "1" {
			replaced = true
		}
	}
	if !replaced {
		t.Error("expected rules_replaced event")
	}
}

func TestResetUsage(t *testing.T) {
	g, _ := newGateway(t, Options{Budget: 100})
	g.Execute(read("docs/a.md", 90))
	if prev := g.ResetUsage(); prev != 90 {
		t.Errorf("expected previous usage 90, got %d", prev)
	}
	if ok, _ := g.ExecuteAction(read("docs/b.md", 90)); !ok {
		t.Error("expected allow after reset")
	}
}

func TestShutdownPersistsAndCloses(t *testing.T) {
	g, rec := newGateway(t, Options{})
	path := filepath.Join(t.TempDir(), "aibom.json")
	dst, err := aibom.OpenDestination(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Shutdown(context.Background(), dst); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	report, err := aibom.ParseReport(data)
	if err != nil {
		t.Fatal(err)
	}
	if report.AgentID != "agent-1" || len(report.Components.Models) != 1 {
		t.Errorf("unexpected persisted report: %+v", report)
	}

	if _, err := g.Execute(read("docs/a.md", 1)); !errors.Is(err, ErrGatewayClosed) {
		t.Errorf("expected ErrGatewayClosed after shutdown, got %v", err)
	}
	if err := g.Initialize(nil, nil); !errors.Is(err, ErrGatewayClosed) {
		t.Errorf("expected ErrGatewayClosed from Initialize, got %v", err)
	}
	if err := g.Shutdown(context.Background(), dst); !errors.Is(err, ErrGatewayClosed) {
		t.Errorf("second shutdown should fail closed, got %v", err)
	}

	evs := rec.Events()
	if evs[len(evs)-1].Type != events.TypeShutdown {
		t.Errorf("expected shutdown event last, got %s", evs[len(evs)-1].Type)
	}
}

type flakySink struct {
	mu    sync.Mutex
	fails int
	puts  map[string][]byte
}

func (f *flakySink) Put(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("bucket unavailable")
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return nil
}

func TestShutdownFailureLeavesClosing(t *testing.T) {
	g, _ := newGateway(t, Options{})
	sink := &flakySink{fails: 1}
	dst := aibom.Destination{Sink: sink, Key: "agent-1.json", URI: "mem://agent-1.json"}

	err := g.Shutdown(context.Background(), dst)
	if !errors.Is(err, aibom.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if g.State() != StateClosing {
		t.Fatalf("expected closing after failed persist, got %s", g.State())
	}
	if _, err := g.Execute(read("docs/a.md", 1)); !errors.Is(err, ErrGatewayClosed) {
		t.Error("closing gateway must reject actions")
	}

	if err := g.Shutdown(context.Background(), dst); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if g.State() != StateClosed || len(sink.puts["agent-1.json"]) == 0 {
		t.Error("retry should persist and close")
	}
}

func TestShutdownBeforeInitialize(t *testing.T) {
	g, err := New(Options{AgentID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	sink := &flakySink{}
	if err := g.Shutdown(context.Background(), aibom.Destination{Sink: sink, Key: "a.json"}); err != nil {
		t.Fatal(err)
	}
	if g.State() != StateClosed || len(sink.puts) != 0 {
		t.Error("uninitialized gateway should close without a report")
	}
}

func TestConcurrentExecute(t *testing.T) {
	g, _ := newGateway(t, Options{Budget: 1_000_000, Breaker: breaker.Config{FailureThreshold: 1_000_000}})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (i+j)%3 == 0 {
					a := shell("ls")
					a.Cost = 1
					g.Execute(a)
				} else {
					g.Execute(read("docs/a.md", 1))
				}
			}
		}(i)
	}
	wg.Wait()

	st := g.Status()
	if st.Decisions != 1000 || st.Allowed+st.Denied != 1000 {
		t.Errorf("unexpected counts: %+v", st)
	}
	if st.Usage != int64(st.Decisions) {
		t.Errorf("expected usage to equal decisions, got %d vs %d", st.Usage, st.Decisions)
	}

	seen := map[string]bool{}
	var last int64
	for _, r := range g.Records() {
		if seen[r.ID] {
			t.Fatalf("duplicate record id %s", r.ID)
		}
		seen[r.ID] = true
		if r.CumulativeUsage < last {
			t.Fatalf("cumulative usage went backwards: %d < %d", r.CumulativeUsage, last)
		}
		last = r.CumulativeUsage
	}
}

package policydiff

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ppiankov/trustplane/internal/policy"
)

func TestIdenticalPoliciesNoChanges(t *testing.T) {
	r := Diff(policy.DefaultConfig(), policy.DefaultConfig())
	if r.HasChanges {
		t.Errorf("expected no changes, got %d changes + %d rule changes",
			len(r.Changes), len(r.RuleChanges))
	}
}

func TestAddedRule(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Rules = append(b.Rules, policy.RuleSpec{
		Name:   "NoWrites",
		Effect: "deny",
		When:   policy.PredicateSpec{Kind: policy.StringList{"file_write"}},
	})

	r := Diff(a, b)
	if !r.HasChanges {
		t.Fatal("expected changes")
	}
	if len(r.RuleChanges) != 1 {
		t.Fatalf("expected 1 rule change, got %d", len(r.RuleChanges))
	}
	rc := r.RuleChanges[0]
	if rc.Type != "added" || rc.Rule != "NoWrites" || rc.Effect != "deny" {
		t.Errorf("unexpected rule change %+v", rc)
	}
	if r.OrderChanged {
		t.Error("appending a rule must not report an order change")
	}
}

func TestRemovedRule(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Rules = b.Rules[:2]

	r := Diff(a, b)
	if len(r.RuleChanges) != 1 {
		t.Fatalf("expected 1 rule change, got %d", len(r.RuleChanges))
	}
	if r.RuleChanges[0].Type != "removed" || r.RuleChanges[0].Rule != "NoShellExecution" {
		t.Errorf("unexpected rule change %+v", r.RuleChanges[0])
	}
}

func TestChangedEffectLooser(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Rules[2].Effect = "allow"

	r := Diff(a, b)
	if len(r.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(r.Changes))
	}
	c := r.Changes[0]
	if c.Rule != "NoShellExecution" || c.Field != "effect" {
		t.Errorf("unexpected change %+v", c)
	}
	if c.Old != "deny" || c.New != "allow" || c.Comment != "looser" {
		t.Errorf("expected deny→allow (looser), got %s→%s (%s)", c.Old, c.New, c.Comment)
	}
}

func TestChangedEffectStricter(t *testing.T) {
	a := policy.DefaultConfig()
	a.Rules[0].Effect = "allow"
	b := policy.DefaultConfig()

	r := Diff(a, b)
	if len(r.Changes) != 1 || r.Changes[0].Comment != "stricter" {
		t.Errorf("expected stricter effect change, got %+v", r.Changes)
	}
}

func TestEffectCaseIgnored(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Rules[0].Effect = "DENY"

	if r := Diff(a, b); r.HasChanges {
		t.Errorf("effect case must not count as a change, got %+v", r.Changes)
	}
}

func TestChangedPredicate(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Rules[1].When.NotSuffix = policy.StringList{".gov", ".mil"}

	r := Diff(a, b)
	if len(r.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(r.Changes))
	}
	c := r.Changes[0]
	if c.Rule != "RestrictedNetwork" || c.Field != "when" {
		t.Errorf("unexpected change %+v", c)
	}
	if strings.Contains(c.Old, ".mil") || !strings.Contains(c.New, ".mil") {
		t.Errorf("expected .mil only in new predicate: %s → %s", c.Old, c.New)
	}
	if strings.Contains(c.New, "\n") {
		t.Errorf("predicate should render on one line, got %q", c.New)
	}
}

func TestChangedDescription(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Rules[2].Description = "no shells"

	r := Diff(a, b)
	if len(r.Changes) != 1 || r.Changes[0].Field != "description" {
		t.Errorf("expected description change, got %+v", r.Changes)
	}
}

func TestOrderChanged(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Rules[0], b.Rules[2] = b.Rules[2], b.Rules[0]

	r := Diff(a, b)
	if !r.OrderChanged || !r.HasChanges {
		t.Error("expected order change")
	}
	if len(r.Changes) != 0 || len(r.RuleChanges) != 0 {
		t.Errorf("reorder alone must not report rule changes, got %+v %+v", r.Changes, r.RuleChanges)
	}
}

func TestFormatTextNoChanges(t *testing.T) {
	r := Diff(policy.DefaultConfig(), policy.DefaultConfig())
	r.OldPath = "a.yaml"
	r.NewPath = "b.yaml"

	out := FormatText(r)
	if !strings.Contains(out, "No changes detected") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestFormatTextWithChanges(t *testing.T) {
	a := policy.DefaultConfig()
	b := policy.DefaultConfig()
	b.Rules[2].Effect = "allow"
	b.Rules = append(b.Rules[1:], policy.RuleSpec{Name: "NoWrites", Effect: "deny"})
	b.Rules[0], b.Rules[1] = b.Rules[1], b.Rules[0]

	out := FormatText(Diff(a, b))
	for _, want := range []string{
		"+ NoWrites (deny)",
		"- NoSensitiveFiles (deny)",
		"~ NoShellExecution effect: deny → allow  (looser)",
		"Rule order changed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	b := policy.DefaultConfig()
	b.Rules = b.Rules[:1]

	out, err := FormatJSON(Diff(policy.DefaultConfig(), b))
	if err != nil {
		t.Fatal(err)
	}

	var decoded DiffResult
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !decoded.HasChanges || len(decoded.RuleChanges) != 2 {
		t.Errorf("unexpected decoded result %+v", decoded)
	}
}

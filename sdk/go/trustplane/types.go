package trustplane

import (
	"fmt"
	"maps"

	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/policy"
)

// Kind is the category of an agent action.
type Kind = model.Kind

const (
	FileRead       = model.KindFileRead
	FileWrite      = model.KindFileWrite
	NetworkRequest = model.KindNetworkRequest
	ShellExec      = model.KindShellExec
)

// Action describes what a tool intends to do.
type Action struct {
	Kind       Kind
	Attributes map[string]any // path, destination, url, command
	Cost       int64          // tokens charged against the agent budget
}

// Result is a gateway decision.
type Result struct {
	Allowed      bool
	Reason       string
	Rule         string
	RecordID     string // empty for dry-run checks
	BreakerState string
	Usage        int64
}

// BlockedError is returned by wrapped tools when the gateway denies an action.
type BlockedError struct {
	Action Action
	Result Result
}

func (e *BlockedError) Error() string {
	if e.Result.Rule != "" {
		return fmt.Sprintf("trustplane blocked %s (%s): %s", e.Action.Kind, e.Result.Rule, e.Result.Reason)
	}
	return fmt.Sprintf("trustplane blocked %s: %s", e.Action.Kind, e.Result.Reason)
}

func toInternalAction(a Action) model.Action {
	return model.Action{
		Kind:       a.Kind,
		Attributes: maps.Clone(a.Attributes),
		Cost:       a.Cost,
	}
}

func fromRecord(rec model.DecisionRecord) Result {
	return Result{
		Allowed:      rec.Allowed(),
		Reason:       rec.Reason,
		Rule:         rec.Rule,
		RecordID:     rec.ID,
		BreakerState: rec.BreakerState,
		Usage:        rec.CumulativeUsage,
	}
}

func fromDecision(d policy.Decision) Result {
	return Result{Allowed: !d.Denied(), Reason: d.Reason, Rule: d.Rule}
}

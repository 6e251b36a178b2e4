// Package trustplane provides trust-gateway enforcement for Go agent
// frameworks. It wraps tool functions, evaluates deny rules, trips a
// circuit breaker on repeated denials, and charges a token budget before
// any tool runs. The gateway can run in-process or behind a
// `trustplane serve` instance.
//
// Usage:
//
//	tp, err := trustplane.New(trustplane.WithAgent("researcher"), trustplane.WithBudget(5000))
//	defer tp.Close(ctx)
//	wrapped := tp.Wrap(myTool)
//	result, err := wrapped(ctx, trustplane.Action{
//	    Kind:       trustplane.FileRead,
//	    Attributes: map[string]any{"path": "/etc/passwd"},
//	})
//
// External users import github.com/ppiankov/trustplane/sdk/go/trustplane.
package trustplane

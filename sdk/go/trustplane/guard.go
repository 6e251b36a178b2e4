package trustplane

import "context"

// ToolFunc is the function signature that Wrap guards.
// The caller provides an Action describing the intended operation.
type ToolFunc func(ctx context.Context, action Action) (any, error)

// Wrap returns a new ToolFunc that submits the action to the gateway
// before calling fn. If the gateway denies it, Wrap returns a
// *BlockedError without calling fn.
func (c *Client) Wrap(fn ToolFunc) ToolFunc {
	return func(ctx context.Context, action Action) (any, error) {
		res, err := c.Execute(ctx, action)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			return nil, &BlockedError{Action: action, Result: res}
		}
		return fn(ctx, action)
	}
}

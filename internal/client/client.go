package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/gateway"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/policy"
	"github.com/ppiankov/trustplane/internal/rpc"
)

// DefaultTimeout bounds each RPC.
const DefaultTimeout = 5 * time.Second

// ReasonUnreachable prefixes the reason of a fail-closed denial.
const ReasonUnreachable = "gateway unreachable"

// Client connects to a trustplane gRPC server.
type Client struct {
	conn    *grpc.ClientConn
	agentID string
	Timeout time.Duration
}

// New creates a gRPC client for agentID connected to addr.
// Fail-closed: if the server cannot be reached, Execute returns a denial.
func New(addr, agentID string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}
	return &Client{conn: conn, agentID: agentID, Timeout: DefaultTimeout}, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	in, err := rpc.Encode(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, rpc.FullMethod(method), in, resp); err != nil {
		return err
	}
	return rpc.Decode(resp, out)
}

func (c *Client) request(a *model.Action) rpc.Request {
	return rpc.Request{AgentID: c.agentID, Action: a}
}

// Execute submits an action for admission.
// Fail-closed: transport failures return a DENIED record and a nil error.
// Rejections the server reports as errors (invalid action, closed gateway)
// are returned as errors.
func (c *Client) Execute(ctx context.Context, action model.Action) (model.DecisionRecord, error) {
	var rec model.DecisionRecord
	err := c.invoke(ctx, rpc.MethodExecute, c.request(&action), &rec)
	if err == nil {
		return rec, nil
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		if s, ok := status.FromError(err); ok && s.Message() == gateway.ErrGatewayClosed.Error() {
			return model.DecisionRecord{}, fmt.Errorf("%w: %s", gateway.ErrGatewayClosed, c.agentID)
		}
		return model.DecisionRecord{
			AgentID:   c.agentID,
			Action:    action.Clone(),
			Outcome:   model.Denied,
			Reason:    fmt.Sprintf("%s: %v", ReasonUnreachable, err),
			Timestamp: time.Now().UTC(),
		}, nil
	case codes.InvalidArgument:
		return model.DecisionRecord{}, fmt.Errorf("%w: %s", model.ErrInvalidAction, status.Convert(err).Message())
	}
	return model.DecisionRecord{}, err
}

// Check evaluates the policy remotely without side effects.
func (c *Client) Check(ctx context.Context, action model.Action) (policy.Decision, error) {
	var d policy.Decision
	if err := c.invoke(ctx, rpc.MethodCheck, c.request(&action), &d); err != nil {
		return policy.Decision{}, err
	}
	return d, nil
}

// Report fetches the agent's AIBOM snapshot.
func (c *Client) Report(ctx context.Context) (aibom.Report, error) {
	var r aibom.Report
	if err := c.invoke(ctx, rpc.MethodReport, c.request(nil), &r); err != nil {
		return aibom.Report{}, err
	}
	return r, nil
}

// Status fetches the agent's gateway status.
func (c *Client) Status(ctx context.Context) (gateway.Status, error) {
	var s gateway.Status
	if err := c.invoke(ctx, rpc.MethodStatus, c.request(nil), &s); err != nil {
		return gateway.Status{}, err
	}
	return s, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

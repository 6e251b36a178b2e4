package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/trustplane/internal/aibom"
	"github.com/ppiankov/trustplane/internal/model"
)

// --- Input/Output types ---

// ActionInput describes one action.
type ActionInput struct {
	Kind       string         `json:"kind" jsonschema:"action kind: file_read, file_write, network_request or shell_exec"`
	Attributes map[string]any `json:"attributes,omitempty" jsonschema:"action attributes such as path, destination or command"`
	Cost       int64          `json:"cost,omitempty" jsonschema:"token cost charged against the agent budget"`
}

// ExecuteOutput is the decision record for an executed action.
type ExecuteOutput struct {
	RecordID        string `json:"record_id"`
	Outcome         string `json:"outcome"`
	Reason          string `json:"reason"`
	Rule            string `json:"rule,omitempty"`
	BreakerState    string `json:"breaker_state"`
	CumulativeUsage int64  `json:"cumulative_usage"`
	Timestamp       string `json:"timestamp"`
}

// CheckOutput contains the policy decision.
type CheckOutput struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason"`
	Rule    string `json:"rule,omitempty"`
}

// ReportInput is empty.
type ReportInput struct{}

// StatusInput is empty.
type StatusInput struct{}

// StatusOutput summarizes the gateway.
type StatusOutput struct {
	AgentID             string `json:"agent_id"`
	State               string `json:"state"`
	BreakerState        string `json:"breaker_state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Usage               int64  `json:"usage"`
	Budget              int64  `json:"budget"`
	Remaining           int64  `json:"remaining"`
	Decisions           int    `json:"decisions"`
	Allowed             int    `json:"allowed"`
	Denied              int    `json:"denied"`
	ConfigHash          string `json:"config_hash,omitempty"`
}

// --- Handlers ---

func (s *Server) handleExecute(ctx context.Context, req *mcpsdk.CallToolRequest, input ActionInput) (*mcpsdk.CallToolResult, ExecuteOutput, error) {
	rec, err := s.gateway.Execute(buildAction(input))
	if err != nil {
		return nil, ExecuteOutput{}, fmt.Errorf("trustplane_execute: %w", err)
	}

	out := ExecuteOutput{
		RecordID:        rec.ID,
		Outcome:         string(rec.Outcome),
		Reason:          rec.Reason,
		Rule:            rec.Rule,
		BreakerState:    rec.BreakerState,
		CumulativeUsage: rec.CumulativeUsage,
		Timestamp:       rec.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if !rec.Allowed() {
		s.logger.Warn("mcp action denied", "kind", input.Kind, "reason", rec.Reason)
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input ActionInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	action := buildAction(input)
	if err := action.Validate(); err != nil {
		return nil, CheckOutput{}, err
	}
	d := s.gateway.Check(action)
	return nil, CheckOutput{Outcome: string(d.Outcome), Reason: d.Reason, Rule: d.Rule}, nil
}

func (s *Server) handleReport(ctx context.Context, req *mcpsdk.CallToolRequest, _ ReportInput) (*mcpsdk.CallToolResult, aibom.Report, error) {
	return nil, s.gateway.Report(), nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	st := s.gateway.Status()
	return nil, StatusOutput{
		AgentID:             st.AgentID,
		State:               string(st.State),
		BreakerState:        string(st.Breaker.State),
		ConsecutiveFailures: st.Breaker.ConsecutiveFailures,
		Usage:               st.Usage,
		Budget:              st.Budget,
		Remaining:           st.Remaining,
		Decisions:           st.Decisions,
		Allowed:             st.Allowed,
		Denied:              st.Denied,
		ConfigHash:          st.ConfigHash,
	}, nil
}

// buildAction converts tool input into a gateway action.
func buildAction(input ActionInput) model.Action {
	attrs := make(map[string]any, len(input.Attributes))
	for k, v := range input.Attributes {
		attrs[k] = v
	}
	return model.Action{
		Kind:       model.Kind(input.Kind),
		Attributes: attrs,
		Cost:       input.Cost,
	}
}

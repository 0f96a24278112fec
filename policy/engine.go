// Package policy decides how the replay scheduler reacts to structural
// conflicts and missing content blobs.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by Evaluate.
const (
	DecisionDeliver = "deliver"
	DecisionSkip    = "skip"
	DecisionFail    = "fail"
)

// Input describes one problematic event for policy evaluation.
type Input struct {
	EventType string `json:"event_type"`
	Reason    string `json:"reason"` // "conflict" or "missing_blob"
	Path      string `json:"path,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.replay_policy.decision"),
		rego.Module("replay_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy from path, falling back to the built-in
// default when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate returns deliver, skip, or fail for a conflicted event. The
// default policy always delivers: the recorded log is ground truth even when
// it disagrees with the reconstructed tree.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionDeliver, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionDeliver, nil
}

// DefaultPolicy is the built-in conflict policy: log wins, warn and continue.
const DefaultPolicy = `
package replay_policy

default decision = "deliver"
`

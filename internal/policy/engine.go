// Package policy decides which attachments the composer may stage.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/xiaot623/sparring/internal/domain"
)

// Decisions returned by the policy.
const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

// Input is the document the policy evaluates.
type Input struct {
	Kind     domain.AttachmentKind `json:"kind"`
	MIMEType string                `json:"mime_type"`
	Size     int64                 `json:"size"`
	MaxSize  int64                 `json:"max_size"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query   rego.PreparedEvalQuery
	maxSize int64
}

// NewEngine creates a new policy engine with the given policy content.
// maxSize is passed to the policy as input.max_size; zero means unlimited.
func NewEngine(ctx context.Context, policyContent string, maxSize int64) (*Engine, error) {
	r := rego.New(
		rego.Query("data.attachment_policy.result"),
		rego.Module("attachment_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query, maxSize: maxSize}, nil
}

// Evaluate runs the policy. Returns: decision (accept, reject), reason, error.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionReject, "policy produced no decision", nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return DecisionReject, "unexpected policy result", nil
	}
	decision, _ := obj["decision"].(string)
	reason, _ := obj["reason"].(string)
	if decision == "" {
		decision = DecisionReject
	}
	return decision, reason, nil
}

// Check evaluates a staged attachment and returns a validation error when the
// policy rejects it.
func (e *Engine) Check(ctx context.Context, a domain.Attachment) error {
	decision, reason, err := e.Evaluate(ctx, Input{
		Kind:     a.Kind,
		MIMEType: a.MIMEType,
		Size:     a.Size(),
		MaxSize:  e.maxSize,
	})
	if err != nil {
		return err
	}
	if decision == DecisionAccept {
		return nil
	}
	if reason == "" {
		reason = "rejected by policy"
	}
	return domain.NewError(domain.KindValidation, "attach "+a.Name, fmt.Errorf("%w: %s", domain.ErrAttachmentRejected, reason))
}

// DefaultPolicy accepts the file types the chat composer offers.
const DefaultPolicy = `
package attachment_policy

image_types := {"image/png", "image/jpeg", "image/gif"}

default decision := "reject"

decision := "accept" if {
	input.kind == "image"
	image_types[input.mime_type]
	within_limit
}

decision := "accept" if {
	input.kind == "pdf"
	input.mime_type == "application/pdf"
	within_limit
}

decision := "accept" if {
	input.kind == "audio"
	startswith(input.mime_type, "audio/")
	within_limit
}

within_limit if input.max_size <= 0

within_limit if input.size <= input.max_size

default reason := "unsupported file type"

reason := "file too large" if not within_limit

reason := "" if decision == "accept"

result := {"decision": decision, "reason": reason}
`

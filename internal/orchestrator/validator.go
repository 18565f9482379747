package orchestrator

import (
	"context"
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"brokerops/internal/intake"
	"brokerops/pkg/cel"
)

// Validator screens closed batches before classification. A batch whose
// every message matches at least one filter rule (bot senders, system
// channels) is skipped silently, never classified.
type Validator struct {
	evaluator *cel.Evaluator
	programs  []celgo.Program
}

// NewValidator compiles the filter rules up front so a bad expression
// fails at startup, not per batch.
func NewValidator(rules []string) (*Validator, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create filter evaluator: %w", err)
	}

	programs := make([]celgo.Program, 0, len(rules))
	for _, rule := range rules {
		program, err := evaluator.CompileFilter(rule)
		if err != nil {
			return nil, fmt.Errorf("invalid filter rule %q: %w", rule, err)
		}
		programs = append(programs, program)
	}
	return &Validator{evaluator: evaluator, programs: programs}, nil
}

// ShouldSkip reports whether the batch's sole content is filtered. A
// rule evaluation error counts as no match, so broken data never drops
// a real message.
func (v *Validator) ShouldSkip(ctx context.Context, batch *intake.MessageBatch) bool {
	if len(v.programs) == 0 || len(batch.Messages) == 0 {
		return false
	}

	for _, msg := range batch.Messages {
		matched := false
		vars := map[string]interface{}{
			cel.VarSenderID:   msg.SourceUserID,
			cel.VarChannelID:  msg.ChannelID,
			cel.VarSource:     msg.Source,
			cel.VarText:       msg.Text,
			cel.VarReceivedAt: msg.ReceivedAt,
		}
		for _, program := range v.programs {
			ok, err := cel.EvalProgram(ctx, program, vars)
			if err != nil {
				continue
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Package cel evaluates sender-filter expressions against inbound messages.
//
// Filter rules decide whether a message batch should be classified at all;
// they are written in CEL so operators can add rules without code changes.
package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Message variables exposed to filter expressions.
const (
	VarSenderID   = "sender_id"
	VarChannelID  = "channel_id"
	VarSource     = "source"
	VarText       = "text"
	VarReceivedAt = "received_at"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarSenderID, cel.StringType),
		cel.Variable(VarChannelID, cel.StringType),
		cel.Variable(VarSource, cel.StringType),
		cel.Variable(VarText, cel.StringType),
		cel.Variable(VarReceivedAt, cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// CompileFilter compiles a boolean filter expression into a reusable program.
func (e *Evaluator) CompileFilter(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

// EvaluateFilter runs a filter expression against the supplied message
// variables. True means the message matches the filter.
func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, vars map[string]interface{}) (bool, error) {
	program, err := e.CompileFilter(expression)
	if err != nil {
		return false, err
	}

	return EvalProgram(ctx, program, vars)
}

// EvalProgram evaluates a precompiled filter program.
func EvalProgram(ctx context.Context, program cel.Program, vars map[string]interface{}) (bool, error) {
	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

package orchestrator

import "fmt"

// Stage names the checkpoints of the per-batch pipeline. The machine is
// linear with no branching back; Failed is reachable from any stage.
type Stage string

const (
	StageReceived       Stage = "received"
	StageValidated      Stage = "validated"
	StageClassified     Stage = "classified"
	StageStored         Stage = "stored"
	StageEntityResolved Stage = "entity_resolved"
	StageAcknowledged   Stage = "acknowledged"
	StageDone           Stage = "done"
	StageSkipped        Stage = "skipped"
)

// reached reports whether s is at or past the target stage in pipeline
// order. Used to resume from a checkpoint without re-running completed
// stages.
func (s Stage) reached(target Stage) bool {
	return stageOrder(s) >= stageOrder(target)
}

func stageOrder(s Stage) int {
	switch s {
	case StageReceived:
		return 0
	case StageValidated:
		return 1
	case StageClassified:
		return 2
	case StageStored:
		return 3
	case StageEntityResolved:
		return 4
	case StageAcknowledged:
		return 5
	case StageDone, StageSkipped:
		return 6
	default:
		return -1
	}
}

// StageError attributes a pipeline failure to the stage that produced
// it. Stages before it completed and are not re-run on retry.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func failAt(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// Package workflow runs the five-step research pipeline for a claimed topic.
//
// The Orchestrator claims a topic through the persistence gateway, runs each
// step through a StepExecutor and records one log entry per settled step.
// Attempts are fenced: a superseded attempt can neither log nor finish.
package workflow

// Step identifies one stage of the research pipeline.
type Step struct {
	Number int
	Name   string
}

// String returns the step name.
func (s Step) String() string { return s.Name }

// Pipeline steps in execution order.
var (
	StepInputParsing      = Step{Number: 1, Name: "Input Parsing"}
	StepDataGathering     = Step{Number: 2, Name: "Data Gathering"}
	StepProcessing        = Step{Number: 3, Name: "Processing"}
	StepResultPersistence = Step{Number: 4, Name: "Result Persistence"}
	StepCompletion        = Step{Number: 5, Name: "Completion"}
)

// Steps is the fixed step sequence.
var Steps = []Step{
	StepInputParsing,
	StepDataGathering,
	StepProcessing,
	StepResultPersistence,
	StepCompletion,
}

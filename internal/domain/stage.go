package domain

import "fmt"

// Stage is one phase of the four-phase listing pipeline.
type Stage string

const (
	StageScrape   Stage = "scrape"   // collect raw product signals
	StageAnalyze  Stage = "analyze"  // score and filter candidates
	StageGenerate Stage = "generate" // produce listing content
	StageList     Stage = "list"     // publish to the marketplace
)

// stageOrder fixes the linear pipeline order. NextStage walks it.
var stageOrder = []Stage{StageScrape, StageAnalyze, StageGenerate, StageList}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// NextStage returns the successor of s, or false when s is terminal
// (or unknown).
func NextStage(s Stage) (Stage, bool) {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// ParseStage validates a stage name received from the outside (admin API,
// CLI, config).
func ParseStage(name string) (Stage, error) {
	for _, st := range stageOrder {
		if string(st) == name {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage: %q", name)
}

// QueueName returns the transport queue backing a stage.
func QueueName(s Stage) string {
	return "pipeline." + string(s)
}

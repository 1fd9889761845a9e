package lifecycle

import "github.com/polishcitizenship/portal-core/internal/model"

// StageInfo is the client-facing description of a state.
type StageInfo struct {
	Message string `json:"message"`
	ETA     string `json:"eta"`
}

var stages = map[model.State]StageInfo{
	model.StateIntake:           {"Initial consultation and document collection", "2-4 weeks"},
	model.StateUSCInFlight:      {"Searching Polish archives for ancestral records", "4-12 weeks"},
	model.StateOBYDrafting:      {"Preparing citizenship application documents", "2-3 weeks"},
	model.StateUSCReady:         {"Documents ready for submission to archives", "1-2 weeks"},
	model.StateOBYSubmittable:   {"Application ready for submission to authorities", "1-2 weeks"},
	model.StateOBYSubmitted:     {"Application submitted to Polish authorities", "Pending government review"},
	model.StateDecisionReceived: {"Decision received from authorities", "Complete"},
}

// Stage returns the description of s.
func Stage(s model.State) StageInfo {
	if info, ok := stages[s]; ok {
		return info
	}
	return StageInfo{Message: "Processing", ETA: "To be determined"}
}

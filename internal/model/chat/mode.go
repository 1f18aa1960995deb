package chat

// Mode selects the assistant's analysis stance. Each mode maps to a sampling
// temperature tuned for its kind of output.
type Mode string

const (
	ModeAnalyze  Mode = "analyze"
	ModeCreate   Mode = "create"
	ModeResearch Mode = "research"
	ModeOptimize Mode = "optimize"
)

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeAnalyze, ModeCreate, ModeResearch, ModeOptimize:
		return true
	}
	return false
}

// Temperature returns the sampling temperature for the mode.
func (m Mode) Temperature() float32 {
	switch m {
	case ModeAnalyze:
		return 0.5
	case ModeCreate:
		return 0.8
	case ModeResearch:
		return 0.3
	case ModeOptimize:
		return 0.6
	default:
		return 0.7
	}
}

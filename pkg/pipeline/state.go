package pipeline

// State is a step of a single auto-crop invocation.
type State int

const (
	Idle State = iota
	Loading
	Segmenting
	Compositing
	BoundsScan
	Cropping
	Done
	// Fallback is terminal: the original input is returned unchanged.
	Fallback
)

var stateNames = [...]string{
	Idle:        "idle",
	Loading:     "loading",
	Segmenting:  "segmenting",
	Compositing: "compositing",
	BoundsScan:  "bounds_scan",
	Cropping:    "cropping",
	Done:        "done",
	Fallback:    "fallback",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s ends an invocation.
func (s State) Terminal() bool {
	return s == Done || s == Fallback
}

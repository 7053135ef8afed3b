package ir

// Version constants for the stored state layout and the engine.
const (
	// StateVersion is the version of the persisted sync state layout.
	StateVersion = "1"

	// EngineVersion is the docsync engine version.
	EngineVersion = "0.1.0"
)

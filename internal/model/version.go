package model

// Version constants for the persisted schema and the engine.
const (
	// SchemaVersion is the store schema version. SQLite records it in
	// PRAGMA user_version.
	SchemaVersion = 1

	// EngineVersion is the cadence engine version.
	EngineVersion = "0.1.0"
)

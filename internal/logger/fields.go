package logger

// Field names shared across components so log lines can be filtered and joined.
const (
	FieldRunID     = "run_id"
	FieldStation   = "station"
	FieldRange     = "range"
	FieldComponent = "component"
	FieldAttempt   = "attempt"
	FieldStatus    = "status"
)

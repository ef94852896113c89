package logging

// Standardized structured logging keys.
const (
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldImpact    = "impact"
	FieldAlert     = "alert"
	FieldSessionID = "session_id"
	FieldPID       = "pid"
	FieldPath      = "path"
	FieldVerb      = "verb"
	FieldQueue     = "queue"
	FieldRule      = "rule"
)

package log

// Canonical field names.
const (
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldSessionID = "session_id"
	FieldAttempt   = "attempt"
	FieldProfile   = "profile"
	FieldState     = "state"
	FieldURL       = "url"
	FieldProxy     = "proxy"
	FieldStatus    = "status"
)

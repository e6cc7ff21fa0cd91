package oauth

// RedactedToken holds a credential that must never appear in logs.
// Every formatting and marshalling path prints "[REDACTED]"; only Value
// returns the secret, for use in outbound requests.
type RedactedToken struct {
	value string
}

// NewRedactedToken wraps value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the wrapped secret. Never log the result.
func (t RedactedToken) Value() string {
	return t.value
}

// IsEmpty reports whether no secret is held.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

func (t RedactedToken) String() string {
	return "[REDACTED]"
}

func (t RedactedToken) GoString() string {
	return "oauth.RedactedToken{[REDACTED]}"
}

func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

package broker

import "fmt"

// opError formats a domain-level failure for the {error: "..."} wire
// envelope. It is never a Go error propagated up through the event
// loop; callers return it as the operation's result.
func opError(format string, args ...any) ErrorEnvelope {
	return ErrorEnvelope{Error: fmt.Sprintf(format, args...)}
}

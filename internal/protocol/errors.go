// ABOUTME: Protocol-level error type for malformed or incomplete envelopes.
// ABOUTME: Carries a best-effort request_id so errors can be answered on the wire.

package protocol

// ProtocolError reports a malformed envelope or a missing required field.
// RequestID is the recovered id when one was decodable, "" otherwise; a
// keyed error can be answered on the wire, an unkeyed one can only be
// logged and dropped.
type ProtocolError struct {
	Reason    string
	RequestID string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// Keyed reports whether the envelope yielded a usable request_id.
func (e *ProtocolError) Keyed() bool {
	return e.RequestID != ""
}

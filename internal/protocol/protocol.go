// ABOUTME: Wire envelope types and codec for the broker's JSON message protocol.
// ABOUTME: One JSON object per transport message; responses are keyed by request_id.

package protocol

import (
	"encoding/json"
	"fmt"
)

// Message type tags used by streaming responses.
const (
	TypeToken = "token"
	TypeEnd   = "end"
)

// EmotionNeutral is the emotion tag applied when a request omits one.
const EmotionNeutral = "neutral"

// Request is the inbound envelope sent by an agent to invoke a tool.
// request_id and tool are required; everything else has a default.
type Request struct {
	RequestID  string          `json:"request_id"`
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Stream     bool            `json:"stream,omitempty"`
	Agent      string          `json:"agent,omitempty"`
	Emotion    string          `json:"emotion,omitempty"`
}

// DecodeRequest parses and validates an inbound envelope.
// Validation failures return a *ProtocolError carrying the request_id when
// one could be recovered from the raw bytes, so callers can still answer
// with a keyed error envelope.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &ProtocolError{
			Reason:    fmt.Sprintf("malformed envelope: %v", err),
			RequestID: recoverRequestID(data),
		}
	}
	if req.RequestID == "" {
		return nil, &ProtocolError{Reason: `missing required field "request_id"`}
	}
	if req.Tool == "" {
		return nil, &ProtocolError{
			Reason:    `missing required field "tool"`,
			RequestID: req.RequestID,
		}
	}
	if req.Emotion == "" {
		req.Emotion = EmotionNeutral
	}
	return &req, nil
}

// recoverRequestID makes a best-effort attempt to pull a string request_id
// out of an envelope that failed strict decoding. Returns "" when the bytes
// are not JSON or the id is absent or not a string.
func recoverRequestID(data []byte) string {
	var probe struct {
		RequestID any `json:"request_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	if id, ok := probe.RequestID.(string); ok {
		return id
	}
	return ""
}

// Result is the unary success envelope.
type Result struct {
	RequestID string          `json:"request_id"`
	Result    json.RawMessage `json:"result"`
}

// Token is one streamed partial value.
type Token struct {
	RequestID string `json:"request_id"`
	Type      string `json:"type"`
	Content   any    `json:"content"`
}

// End terminates a successful stream. Exactly one End or ErrorEnvelope is
// sent per streaming request, never both.
type End struct {
	RequestID string `json:"request_id"`
	Type      string `json:"type"`
}

// ErrorEnvelope reports a failure in place of any other response shape.
type ErrorEnvelope struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

// EncodeResult marshals a unary success envelope.
// Fails only if the handler produced bytes that are not valid JSON.
func EncodeResult(requestID string, result json.RawMessage) ([]byte, error) {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	data, err := json.Marshal(Result{RequestID: requestID, Result: result})
	if err != nil {
		return nil, fmt.Errorf("encoding result envelope: %w", err)
	}
	return data, nil
}

// EncodeToken marshals one stream token envelope.
func EncodeToken(requestID string, content any) ([]byte, error) {
	data, err := json.Marshal(Token{RequestID: requestID, Type: TypeToken, Content: content})
	if err != nil {
		return nil, fmt.Errorf("encoding token envelope: %w", err)
	}
	return data, nil
}

// EncodeEnd marshals the stream terminator envelope.
func EncodeEnd(requestID string) []byte {
	data, _ := json.Marshal(End{RequestID: requestID, Type: TypeEnd})
	return data
}

// EncodeError marshals an error envelope.
func EncodeError(requestID, message string) []byte {
	data, _ := json.Marshal(ErrorEnvelope{RequestID: requestID, Error: message})
	return data
}

// Response is the client-side view of any inbound response envelope.
// Callers branch on Kind to pick the populated fields.
type Response struct {
	RequestID string          `json:"request_id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Type      string          `json:"type,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ResponseKind identifies which of the four wire shapes a Response carries.
type ResponseKind int

const (
	KindResult ResponseKind = iota
	KindToken
	KindEnd
	KindError
)

func (k ResponseKind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindToken:
		return "token"
	case KindEnd:
		return "end"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("ResponseKind(%d)", int(k))
	}
}

// Kind classifies the response by its populated fields. Error wins over the
// typed shapes because an error envelope may replace any of them.
func (r *Response) Kind() ResponseKind {
	switch {
	case r.Error != "":
		return KindError
	case r.Type == TypeToken:
		return KindToken
	case r.Type == TypeEnd:
		return KindEnd
	default:
		return KindResult
	}
}

// DecodeResponse parses a response envelope on the client side.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("malformed response envelope: %w", err)
	}
	if resp.RequestID == "" {
		return nil, fmt.Errorf("response envelope missing request_id")
	}
	return &resp, nil
}

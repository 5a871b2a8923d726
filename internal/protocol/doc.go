// Package protocol defines the broker's wire envelopes and their codecs.
//
// # Overview
//
// Every message on a broker connection is a single JSON object. Clients
// send requests; the broker answers each request with exactly one
// terminal outcome, optionally preceded by tokens when the tool streams.
//
// # Request
//
// A request names a tool and carries opaque parameters:
//
//	{"request_id": "1", "tool": "echo", "parameters": {"message": "hi"},
//	 "stream": true, "agent": "coder", "emotion": "curious"}
//
// request_id and tool are required. stream defaults to false, emotion
// to "neutral"; agent is optional. Parameters pass through to the tool
// handler as raw JSON, never interpreted by the broker.
//
// # Responses
//
// Four envelope shapes flow back, all keyed by the request_id they
// answer:
//
//	{"request_id": "1", "result": {...}}            unary success
//	{"request_id": "1", "type": "token", "content": ...}
//	{"request_id": "1", "type": "end"}              stream success
//	{"request_id": "1", "error": "..."}             failure
//
// Result, end, and error are terminal; tokens only ever precede an end
// or error on the same request_id.
//
// # Malformed Traffic
//
// DecodeRequest distinguishes two failure classes via
// ProtocolError.Keyed: when the offending message still yields a usable
// request_id the broker can answer with a keyed error envelope;
// otherwise there is nothing to key a reply to and the message can only
// be logged and dropped.
package protocol

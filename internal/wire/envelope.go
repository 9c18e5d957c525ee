package wire

// EnvelopeKind tags which message family an Envelope carries.
type EnvelopeKind uint8

const (
	EnvelopeSimple EnvelopeKind = iota
	EnvelopeRequest
	EnvelopeResponse
)

// Envelope is the outermost wire record: every message sent between peers
// is stamped with a ProtocolVersion before the payload is dispatched to the
// matching handler (spec.md §6 "every message names its own protocol
// family and version").
type Envelope struct {
	Version ProtocolVersion
	Kind    EnvelopeKind

	Simple   *Simple
	Request  *Request
	Response *Response
}

// WrapSimple stamps a gossip message for transport.
func WrapSimple(s Simple) Envelope {
	return Envelope{Version: V1, Kind: EnvelopeSimple, Simple: &s}
}

// WrapRequest stamps an outbound request for transport.
func WrapRequest(r Request) Envelope {
	return Envelope{Version: V1, Kind: EnvelopeRequest, Request: &r}
}

// WrapResponse stamps an outbound response for transport.
func WrapResponse(r Response) Envelope {
	return Envelope{Version: V1, Kind: EnvelopeResponse, Response: &r}
}

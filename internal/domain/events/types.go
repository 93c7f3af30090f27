package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Message - the envelope every signaling frame travels in.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Signaling frame types. A publisher owns an address derived from its room
// code; dialers reach it through that address and the server relays SDP both
// ways. It never relays between two dialers.
const (
	TypePublish    = "publish"
	TypePublished  = "published"
	TypeDial       = "dial"
	TypeDialed     = "dialed"
	TypeIncoming   = "incoming"
	TypeOffer      = "offer"
	TypeAnswer     = "answer"
	TypeCandidate  = "candidate"
	TypePeerClosed = "peer_closed"
	TypeError      = "error"
	TypePing       = "ping"
	TypePong       = "pong"
)

// Machine-readable error codes carried by ErrorEvent.
const (
	ErrorCodeAddressInUse = "address_in_use"
	ErrorCodeNotFound     = "not_found"
	ErrorCodeBadRequest   = "bad_request"
)

// PublishEvent claims an address for the sending connection.
type PublishEvent struct {
	Address string `json:"address"`
}

type PublishedEvent struct {
	Address string `json:"address"`
}

// DialEvent asks for a relay to whoever published the address.
type DialEvent struct {
	Address string `json:"address"`
}

// DialedEvent tells the dialer the id its relay runs under.
type DialedEvent struct {
	DialID uuid.UUID `json:"dial_id"`
}

// IncomingEvent tells the publisher a dialer wants in.
type IncomingEvent struct {
	DialID uuid.UUID `json:"dial_id"`
}

// SDPEvent carries an offer or answer for one dial.
type SDPEvent struct {
	DialID uuid.UUID `json:"dial_id"`
	SDP    string    `json:"sdp"`
}

// CandidateEvent carries one ICE candidate for one dial.
type CandidateEvent struct {
	DialID    uuid.UUID               `json:"dial_id"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// PeerClosedEvent tells the surviving side its counterpart is gone.
type PeerClosedEvent struct {
	DialID uuid.UUID `json:"dial_id"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope marshals payload into a Message. Marshalling of these fixed
// shapes cannot fail.
func Envelope(msgType string, payload any) Message {
	if payload == nil {
		return Message{Type: msgType}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return Message{Type: msgType, Data: data}
}

// Package wire implements the line-delimited JSON framing shared by the
// rendezvous protocol and the peer-to-peer protocol, and the peer-to-peer
// message envelope itself.
package wire

import "encoding/json"

// Type is a peer-to-peer protocol message type.
type Type string

const (
	TypeHello   Type = "HELLO"
	TypeHelloOK Type = "HELLO_OK"
	TypePing    Type = "PING"
	TypePong    Type = "PONG"
	TypeSend    Type = "SEND"
	TypeAck     Type = "ACK"
	TypePub     Type = "PUB"
	TypeBye     Type = "BYE"
	TypeByeOK   Type = "BYE_OK"
)

// ProtocolVersion is the handshake version string both sides exchange.
const ProtocolVersion = "1.0"

// Features are the feature tags advertised in HELLO/HELLO_OK.
var Features = []string{"ack", "metrics"}

// WireTTL is the TTL value the core stamps on every outbound message. The
// core never decrements or forwards it (relaying is a non-goal); it is
// carried purely for wire compatibility with relay-capable implementations.
const WireTTL = 1

// Message is the single envelope type for every peer-to-peer wire message.
// Not every field applies to every Type; see the table in the spec for the
// required fields per type. Optional fields (Compressed/UncompressedSize)
// are additive and not required by any message type.
type Message struct {
	Type Type `json:"type"`
	TTL  int  `json:"ttl"`

	// Handshake fields (HELLO, HELLO_OK).
	PeerID   string   `json:"peer_id,omitempty"`
	Version  string   `json:"version,omitempty"`
	Features []string `json:"features,omitempty"`

	// Correlation / routing fields (PING, PONG, SEND, ACK, PUB, BYE, BYE_OK).
	MsgID     string `json:"msg_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Src       string `json:"src,omitempty"`
	Dst       string `json:"dst,omitempty"`

	// SEND/PUB payload fields.
	Payload    string `json:"payload,omitempty"`
	RequireAck bool   `json:"require_ack,omitempty"`

	// BYE fields.
	Reason string `json:"reason,omitempty"`

	// Optional LZ4 compression of Payload (base64). See internal/wire/compress.go.
	Compressed       bool `json:"compressed,omitempty"`
	UncompressedSize int  `json:"uncompressed_size,omitempty"`
}

// Encode marshals a message to its JSON form, without the trailing newline.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a single JSON object into a Message.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Hello builds a HELLO (or HELLO_OK if ok is true) message for the given
// local peer id string.
func Hello(peerID string, ok bool) Message {
	t := TypeHello
	if ok {
		t = TypeHelloOK
	}
	return Message{
		Type:     t,
		TTL:      WireTTL,
		PeerID:   peerID,
		Version:  ProtocolVersion,
		Features: Features,
	}
}

// Package identity implements the peer identity exchange codec. Peers
// introduce themselves out-of-band by showing a QR code carrying an encoded
// exchange payload; scanning it is how a contact gets created.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the current exchange payload version. Decode rejects
// anything newer.
const ProtocolVersion = 1

// ErrInvalidFormat marks a payload that is structurally unusable: malformed
// encoding, missing required fields or an unsupported protocol version.
// Semantically valid payloads that are rejected for business reasons (self-add,
// duplicate contact) carry their own errors in the chat service.
var ErrInvalidFormat = errors.New("invalid identity payload")

// Payload is the public identity exchanged via QR code.
type Payload struct {
	ID              string `json:"id"`
	Nickname        string `json:"nick"`
	HasAvatar       bool   `json:"av,omitempty"`
	ProtocolVersion int    `json:"v"`
}

// Encode serializes a payload as compact JSON.
func Encode(p Payload) ([]byte, error) {
	if p.ID == "" || p.Nickname == "" {
		return nil, fmt.Errorf("%w: id and nickname are required", ErrInvalidFormat)
	}
	if p.ProtocolVersion == 0 {
		p.ProtocolVersion = ProtocolVersion
	}
	return json.Marshal(p)
}

// Decode parses an exchange payload, validating required fields and the
// protocol version. All failures wrap ErrInvalidFormat.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if p.ID == "" {
		return Payload{}, fmt.Errorf("%w: missing id", ErrInvalidFormat)
	}
	if p.Nickname == "" {
		return Payload{}, fmt.Errorf("%w: missing nickname", ErrInvalidFormat)
	}
	if p.ProtocolVersion < 1 || p.ProtocolVersion > ProtocolVersion {
		return Payload{}, fmt.Errorf("%w: unsupported protocol version %d", ErrInvalidFormat, p.ProtocolVersion)
	}
	return p, nil
}

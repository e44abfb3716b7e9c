// Package turnfile defines the decoded view of an uploaded turn file.
//
// The wire format itself is opaque to the hosting engine; decoding is
// delegated to a Parser and the engine only consumes the accessor surface
// defined here.
package turnfile

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key is a registration key embedded in a turn file. The payload is carried
// verbatim; the engine never interprets it beyond deriving an identifier.
type Key struct {
	Payload []byte
}

// ID returns the content-derived identifier of the key. Two keys with the
// same payload always share an id.
func (k Key) ID() string {
	sum := sha256.Sum256(k.Payload)
	return hex.EncodeToString(sum[:16])
}

// IsZero reports whether the key carries no payload.
func (k Key) IsZero() bool {
	return len(k.Payload) == 0
}

// Data is the decoded accessor surface of a turn file.
type Data struct {
	// Slot is the player position the file claims, 1-based.
	Slot int32
	// Timestamp is the turn-file timestamp identifying the game turn the
	// file was generated against.
	Timestamp string
	// Key is the embedded registration key.
	Key Key
	// TrailerChecksum is the checksum carried in the file trailer.
	TrailerChecksum uint32
}

// Parser decodes a turn-file blob. A decode failure means the blob is not a
// turn file at all; parsers must not guess.
type Parser interface {
	Parse(blob []byte) (Data, error)
}

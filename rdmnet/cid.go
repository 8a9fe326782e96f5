package rdmnet

import "github.com/google/uuid"

// CID is the 128-bit Component Identifier naming an RDMnet participant.
// It is wire-identical to a UUID.
type CID uuid.UUID

// NewCID generates a random (v4) CID. NewCore uses it to pick each Core's
// local_cid.
func NewCID() CID {
	return CID(uuid.New())
}

// String renders the CID in canonical UUID form.
func (c CID) String() string {
	return uuid.UUID(c).String()
}

// Bytes returns the 16-byte wire representation, big-endian per field as
// defined by RFC 4122 / the ACN root layer CID encoding.
func (c CID) Bytes() [16]byte {
	return [16]byte(c)
}

// CIDFromBytes parses a 16-byte wire CID.
func CIDFromBytes(b []byte) (CID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return CID{}, err
	}
	return CID(u), nil
}

// IsZero reports whether c is the nil CID.
func (c CID) IsZero() bool {
	return c == CID{}
}

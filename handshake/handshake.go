package handshake

import (
	"fmt"
	"io"
)

// Handshake string consists of (in order):
//   - 1 byte for pstr length (length of protocol identifier - has to be 19)
//   - 19 bytes for pstr (protocol identifier - BitTorrent protocol)
//   - 8 reserved bytes for extension support (none supported here)
//   - 20 bytes for infohash (SHA-1 of bencoded info dictionary)
//   - 20 bytes for peerID (random id to identify ourselves)
type Handshake struct {
	Pstr     string
	InfoHash [20]byte
	PeerID   [20]byte
}

// Protocol is the only protocol identifier this client speaks.
const Protocol = "BitTorrent protocol"

// length of handshake string in bytes
const Len = 49 + len(Protocol)

// Error reports a handshake the remote side got wrong. It is fatal to the
// connection it happened on and to nothing else.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake: %s: %v", e.Reason, e.Err)
	}
	return "handshake: " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Create new Handshake struct with given infoHash and peerID.
func New(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{
		Pstr:     Protocol,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

// Put together a handshake string.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, len(h.Pstr)+49)
	buf[0] = byte(len(h.Pstr))
	curr := 1
	curr += copy(buf[curr:], h.Pstr)
	curr += copy(buf[curr:], make([]byte, 8)) // reserved
	curr += copy(buf[curr:], h.InfoHash[:])
	copy(buf[curr:], h.PeerID[:])
	return buf
}

// Read exactly one handshake from r and check its protocol identifier.
func Read(r io.Reader) (*Handshake, error) {
	buf := make([]byte, Len)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, &Error{Reason: "reading handshake", Err: err}
	}

	pstrLen := int(buf[0])
	if pstrLen != len(Protocol) {
		return nil, &Error{Reason: fmt.Sprintf("pstr length should be %d but is %d", len(Protocol), pstrLen)}
	}
	pstr := string(buf[1 : 1+pstrLen])
	if pstr != Protocol {
		return nil, &Error{Reason: fmt.Sprintf("unexpected protocol %q", pstr)}
	}

	h := Handshake{Pstr: pstr}
	copy(h.InfoHash[:], buf[1+pstrLen+8:1+pstrLen+8+20])
	copy(h.PeerID[:], buf[1+pstrLen+8+20:])
	return &h, nil
}

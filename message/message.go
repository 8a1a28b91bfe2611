package message

import (
	"encoding/binary"
	"fmt"
	"io"
)

type ID uint8

// Generally every two minutes a message of length zero (keepalive) is sent.
//
// All non-keepalive messages with their IDs:
//   - choke 0 (communication channel not ready to receive messages)
//   - unchoke 1 (communication channel ready to receive messages)
//   - interested 2 (communication channel ready to send messages)
//   - not interested 3 (communication channel not ready to send messages)
//   - have 4 (piece index downloader/peer downloaded/has)
//   - bitfield 5 (encode which piece peer is able to send)
//   - request 6 (message payload of the form <index><begin><length> requesting a block)
//   - piece 7 (message payload of the form <index><begin><block> containing a block)
//   - cancel 8 (identical to request message used to cancel block requests)
const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	Bitfield      ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
)

// MaxLength bounds the length prefix we are willing to allocate for.
const MaxLength = 2 << 20

// Every message is of the following form:
// | Message Length | Message ID | Optional Payload |

// Message length is not stored but is just used to parse the message.
// A nil *Message is a keep-alive.
type Message struct {
	ID      ID
	Payload []byte
}

// Block is the payload of a PIECE message.
type Block struct {
	Index int
	Begin int
	Data  []byte
}

// ProtocolError reports a message that breaks the wire protocol. It is
// fatal to the connection it arrived on.
type ProtocolError struct {
	ID     ID
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wire protocol: %s (message ID %d)", e.Reason, e.ID)
}

func CreateRequestMessage(index, begin, length int) *Message {
	return &Message{ID: Request, Payload: triple(index, begin, length)}
}

func CreateCancelMessage(index, begin, length int) *Message {
	return &Message{ID: Cancel, Payload: triple(index, begin, length)}
}

func triple(a, b, c int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(a))
	binary.BigEndian.PutUint32(payload[4:8], uint32(b))
	binary.BigEndian.PutUint32(payload[8:12], uint32(c))
	return payload
}

// Creates peer message with ID of 4 (HAVE).
//
// Format of the message: <length=5><id=4><payload>
func CreateHaveMessage(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: Have, Payload: payload}
}

// Creates peer message with ID of 7 (PIECE).
func CreatePieceMessage(index, begin int, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)
	return &Message{ID: Piece, Payload: payload}
}

// Extract payload (index) from raw HAVE message.
func ReadHaveMessage(msg *Message) (int, error) {
	if msg == nil || msg.ID != Have {
		return -1, fmt.Errorf("expected HAVE message, got %s", msg)
	}
	if len(msg.Payload) != 4 {
		return -1, &ProtocolError{ID: Have, Reason: fmt.Sprintf("expected payload of length 4, got length %d", len(msg.Payload))}
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}

// Extract <index><begin><length> from a raw REQUEST or CANCEL message.
func ReadRequestMessage(msg *Message) (index, begin, length int, err error) {
	if msg == nil || (msg.ID != Request && msg.ID != Cancel) {
		return 0, 0, 0, fmt.Errorf("expected REQUEST or CANCEL message, got %s", msg)
	}
	if len(msg.Payload) != 12 {
		return 0, 0, 0, &ProtocolError{ID: msg.ID, Reason: fmt.Sprintf("expected payload of length 12, got length %d", len(msg.Payload))}
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	length = int(binary.BigEndian.Uint32(msg.Payload[8:12]))
	return index, begin, length, nil
}

// Extract the block carried by a raw PIECE message.
func ReadPieceMessage(msg *Message) (*Block, error) {
	if msg == nil || msg.ID != Piece {
		return nil, fmt.Errorf("expected PIECE message, got %s", msg)
	}
	if len(msg.Payload) < 8 {
		return nil, &ProtocolError{ID: Piece, Reason: fmt.Sprintf("payload too short: %d < 8", len(msg.Payload))}
	}
	return &Block{
		Index: int(binary.BigEndian.Uint32(msg.Payload[0:4])),
		Begin: int(binary.BigEndian.Uint32(msg.Payload[4:8])),
		Data:  msg.Payload[8:],
	}, nil
}

// Put together a message.
func (msg *Message) Serialize() []byte {
	// keepalive
	if msg == nil {
		return make([]byte, 4)
	}

	length := uint32(len(msg.Payload) + 1) // payload + ID (1 byte)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(msg.ID)
	copy(buf[5:], msg.Payload)
	return buf
}

// Convert raw message into a Message struct. A keep-alive yields a nil
// message and a nil error.
func Read(r io.Reader) (*Message, error) {
	bufLen := make([]byte, 4)
	_, err := io.ReadFull(r, bufLen)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(bufLen)

	// keepalive
	if length == 0 {
		return nil, nil
	}
	if length > MaxLength {
		return nil, &ProtocolError{Reason: fmt.Sprintf("message length %d exceeds %d", length, MaxLength)}
	}

	payloadBuf := make([]byte, length)
	_, err = io.ReadFull(r, payloadBuf)
	if err != nil {
		return nil, err
	}

	msg := Message{
		ID:      ID(payloadBuf[0]),
		Payload: payloadBuf[1:],
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// validate checks the ID is known and fixed-size payloads have their size.
func (msg *Message) validate() error {
	want := -1
	switch msg.ID {
	case Choke, Unchoke, Interested, NotInterested:
		want = 0
	case Have:
		want = 4
	case Request, Cancel:
		want = 12
	case Piece:
		if len(msg.Payload) < 8 {
			return &ProtocolError{ID: msg.ID, Reason: "piece payload shorter than 8 bytes"}
		}
	case Bitfield:
	default:
		return &ProtocolError{ID: msg.ID, Reason: "unrecognized message ID"}
	}
	if want >= 0 && len(msg.Payload) != want {
		return &ProtocolError{ID: msg.ID, Reason: fmt.Sprintf("expected payload of length %d, got %d", want, len(msg.Payload))}
	}
	return nil
}

func (msg *Message) name() string {
	if msg == nil {
		return "KeepAlive"
	}
	switch msg.ID {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case Bitfield:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	default:
		return fmt.Sprintf("Unknown#%d", msg.ID)
	}
}

func (msg *Message) String() string {
	if msg == nil {
		return msg.name()
	}

	return fmt.Sprintf("%s [%d]", msg.name(), len(msg.Payload))
}

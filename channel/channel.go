package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"leech/bitfield"
	"leech/handshake"
	"leech/message"
	"leech/peer"
)

// ErrChoked is returned when a request would be sent to a peer that is
// choking us.
var ErrChoked = errors.New("peer is choking us")

// Options are the per-connection settings taken from config.Config.
type Options struct {
	PeerID           [20]byte
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	NumPieces        int
	RequireBitfield  bool
	Log              zerolog.Logger
}

// Represents the communication channel between client and peer.
//
// A Channel is driven by one goroutine at a time. HasPiece is the exception:
// it may be called concurrently with Read.
type Channel struct {
	Conn   net.Conn
	choked bool
	name   string

	mu       sync.RWMutex
	bitfield bitfield.Bitfield

	infoHash   [20]byte
	remoteID   [20]byte
	interested bool
	log        zerolog.Logger
}

func completeHandshake(conn net.Conn, infoHash, peerID [20]byte, timeout time.Duration) (*handshake.Handshake, error) {
	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
		defer conn.SetDeadline(time.Time{})
	}

	request := handshake.New(infoHash, peerID)
	_, err := conn.Write(request.Serialize())
	if err != nil {
		return nil, &handshake.Error{Reason: "sending handshake", Err: err}
	}

	result, err := handshake.Read(conn)
	if err != nil {
		return nil, err
	}

	// check if info hash sent equals to the one received
	if !bytes.Equal(result.InfoHash[:], infoHash[:]) {
		return nil, &handshake.Error{Reason: fmt.Sprintf("expected infohash %x but got %x", infoHash, result.InfoHash)}
	}
	return result, nil
}

// Receive bitfield peer message right after successful handshake. Keep-alives
// are skipped. When the bitfield is optional and another message comes first,
// the peer starts with an empty bitfield and that message is returned so the
// caller can apply it.
func receiveBitfield(conn net.Conn, opts Options) (bitfield.Bitfield, *message.Message, error) {
	if opts.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(opts.HandshakeTimeout))
		defer conn.SetDeadline(time.Time{})
	}

	for {
		msg, err := message.Read(conn)
		if err != nil {
			return nil, nil, err
		}
		if msg == nil {
			continue
		}

		if msg.ID != message.Bitfield {
			if opts.RequireBitfield {
				return nil, nil, &message.ProtocolError{ID: msg.ID, Reason: "expected bitfield as first message"}
			}
			return bitfield.New(opts.NumPieces), msg, nil
		}

		if opts.NumPieces > 0 && len(msg.Payload) != (opts.NumPieces+7)/8 {
			return nil, nil, &message.ProtocolError{
				ID:     msg.ID,
				Reason: fmt.Sprintf("bitfield of %d bytes does not cover %d pieces", len(msg.Payload), opts.NumPieces),
			}
		}
		return msg.Payload, nil, nil
	}
}

// New dials the peer and opens a channel on the connection.
func New(ctx context.Context, p peer.Peer, infoHash [20]byte, opts Options) (*Channel, error) {
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.String())
	if err != nil {
		return nil, err
	}

	ch, err := Open(conn, p.String(), infoHash, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ch, nil
}

// Open completes the handshake and reads the peer's bitfield on an
// established connection. The connection is not closed on failure.
func Open(conn net.Conn, name string, infoHash [20]byte, opts Options) (*Channel, error) {
	hs, err := completeHandshake(conn, infoHash, opts.PeerID, opts.HandshakeTimeout)
	if err != nil {
		return nil, err
	}

	bf, first, err := receiveBitfield(conn, opts)
	if err != nil {
		return nil, err
	}

	ch := &Channel{
		Conn:     conn,
		choked:   true,
		name:     name,
		bitfield: bf,
		infoHash: infoHash,
		remoteID: hs.PeerID,
		log:      opts.Log.With().Str("peer", name).Logger(),
	}
	if first != nil {
		if err := ch.apply(first); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// Read the next message and apply it to the channel state. Choke, unchoke
// and have are tracked here; a second bitfield is a protocol violation.
func (ch *Channel) Read() (*message.Message, error) {
	msg, err := message.Read(ch.Conn)
	if err != nil {
		return nil, err
	}
	if err := ch.apply(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (ch *Channel) apply(msg *message.Message) error {
	// keep-alive
	if msg == nil {
		return nil
	}

	switch msg.ID {
	case message.Unchoke:
		ch.choked = false
	case message.Choke:
		ch.choked = true
	case message.Have:
		index, err := message.ReadHaveMessage(msg)
		if err != nil {
			return err
		}
		ch.mu.Lock()
		ch.bitfield.SetPiece(index)
		ch.mu.Unlock()
	case message.Bitfield:
		return &message.ProtocolError{ID: msg.ID, Reason: "bitfield after the first message"}
	}
	ch.log.Trace().Stringer("message", msg).Msg("received")
	return nil
}

func (ch *Channel) HasPiece(index int) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.bitfield.HasPiece(index)
}

// Bitfield returns a copy of what the peer has advertised so far.
func (ch *Channel) Bitfield() bitfield.Bitfield {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return append(bitfield.Bitfield(nil), ch.bitfield...)
}

func (ch *Channel) Choked() bool {
	return ch.choked
}

// RemoteID is the peer ID the remote side sent in its handshake.
func (ch *Channel) RemoteID() [20]byte {
	return ch.remoteID
}

func (ch *Channel) send(msg *message.Message) error {
	_, err := ch.Conn.Write(msg.Serialize())
	return err
}

// Request a block. Nothing is sent while the peer is choking us.
func (ch *Channel) SendRequest(index, begin, length int) error {
	if ch.choked {
		return ErrChoked
	}
	return ch.send(message.CreateRequestMessage(index, begin, length))
}

// Tell the peer we want to download. Only the first call sends anything.
func (ch *Channel) SendInterested() error {
	if ch.interested {
		return nil
	}
	if err := ch.send(&message.Message{ID: message.Interested}); err != nil {
		return err
	}
	ch.interested = true
	return nil
}

func (ch *Channel) SetDeadline(t time.Time) error {
	return ch.Conn.SetDeadline(t)
}

func (ch *Channel) Close() error {
	return ch.Conn.Close()
}

func (ch *Channel) String() string {
	return ch.name
}

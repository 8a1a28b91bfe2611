// Package channeltest provides a scripted remote peer for tests.
package channeltest

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"leech/bitfield"
	"leech/handshake"
	"leech/message"
)

// Seeder answers one side of the peer wire protocol from an in-memory copy
// of the content.
type Seeder struct {
	InfoHash    [20]byte
	PeerID      [20]byte
	Data        []byte
	PieceLength int

	Have         bitfield.Bitfield // nil advertises every piece
	SkipBitfield bool              // send unchoke instead of a bitfield
	KeepChoked   bool              // never unchoke
	Corrupt      bool              // flip the first byte of every block
	Silent       bool              // swallow requests
	KeepAlives   bool              // send a keep-alive before every block

	requests int64
	mu       sync.Mutex
	served   map[int]int
}

// Requests is the number of block requests received so far.
func (s *Seeder) Requests() int {
	return int(atomic.LoadInt64(&s.requests))
}

// Served reports how many blocks of a piece this seeder sent.
func (s *Seeder) Served(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served[index]
}

func (s *Seeder) numPieces() int {
	return (len(s.Data) + s.PieceLength - 1) / s.PieceLength
}

func (s *Seeder) bitfield() bitfield.Bitfield {
	if s.Have != nil {
		return s.Have
	}
	bf := bitfield.New(s.numPieces())
	for i := 0; i < s.numPieces(); i++ {
		bf.SetPiece(i)
	}
	return bf
}

func write(conn net.Conn, msg *message.Message) error {
	_, err := conn.Write(msg.Serialize())
	return err
}

// Serve runs the protocol on conn until it fails or is closed.
func (s *Seeder) Serve(conn net.Conn) error {
	defer conn.Close()

	hs, err := handshake.Read(conn)
	if err != nil {
		return err
	}
	if !bytes.Equal(hs.InfoHash[:], s.InfoHash[:]) {
		return fmt.Errorf("unknown infohash %x", hs.InfoHash)
	}
	if _, err := conn.Write(handshake.New(s.InfoHash, s.PeerID).Serialize()); err != nil {
		return err
	}

	first := &message.Message{ID: message.Bitfield, Payload: s.bitfield()}
	if s.SkipBitfield {
		first = &message.Message{ID: message.Unchoke}
	}
	if err := write(conn, first); err != nil {
		return err
	}

	for {
		msg, err := message.Read(conn)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		switch msg.ID {
		case message.Interested:
			if !s.KeepChoked {
				if err := write(conn, &message.Message{ID: message.Unchoke}); err != nil {
					return err
				}
			}
		case message.Request:
			if err := s.answer(conn, msg); err != nil {
				return err
			}
		}
	}
}

func (s *Seeder) answer(conn net.Conn, msg *message.Message) error {
	index, begin, length, err := message.ReadRequestMessage(msg)
	if err != nil {
		return err
	}
	atomic.AddInt64(&s.requests, 1)
	if s.Silent {
		return nil
	}

	start := index*s.PieceLength + begin
	if start+length > len(s.Data) {
		return fmt.Errorf("request for %d bytes at %d is out of range", length, start)
	}
	block := append([]byte(nil), s.Data[start:start+length]...)
	if s.Corrupt && len(block) > 0 {
		block[0] ^= 0xff
	}

	if s.KeepAlives {
		if err := write(conn, nil); err != nil {
			return err
		}
	}
	if err := write(conn, message.CreatePieceMessage(index, begin, block)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.served == nil {
		s.served = make(map[int]int)
	}
	s.served[index]++
	s.mu.Unlock()
	return nil
}

// Pipe starts serving on one end of an in-memory connection and returns the
// other end.
func (s *Seeder) Pipe() net.Conn {
	client, server := net.Pipe()
	go s.Serve(server)
	return client
}

// Listen serves every connection accepted on a fresh loopback listener.
func (s *Seeder) Listen() (net.Listener, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.Serve(conn)
		}
	}()
	return l, nil
}

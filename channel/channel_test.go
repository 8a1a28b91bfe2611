package channel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leech/bitfield"
	"leech/channel/channeltest"
	"leech/handshake"
	"leech/message"
	"leech/peer"
)

var (
	infoHash = [20]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	clientID = [20]byte{'-', 'A', 'L', '0', '0', '0', '1', '-', 'c', 'l', 'i', 'e', 'n', 't', 'c', 'l', 'i', 'e', 'n', 't'}
	remoteID = [20]byte{'-', 'S', 'D', '0', '0', '0', '1', '-', 's', 'e', 'e', 'd', 'e', 'r', 's', 'e', 'e', 'd', 'e', 'r'}
)

func options(numPieces int) Options {
	return Options{
		PeerID:           clientID,
		DialTimeout:      time.Second,
		HandshakeTimeout: time.Second,
		NumPieces:        numPieces,
		RequireBitfield:  true,
		Log:              zerolog.Nop(),
	}
}

func seeder(pieces int) *channeltest.Seeder {
	return &channeltest.Seeder{
		InfoHash:    infoHash,
		PeerID:      remoteID,
		Data:        make([]byte, pieces*32),
		PieceLength: 32,
	}
}

func TestOpen(t *testing.T) {
	s := seeder(10)
	s.Have = bitfield.Bitfield{0b10100000, 0b01000000}

	ch, err := Open(s.Pipe(), "pipe", infoHash, options(10))
	require.NoError(t, err)
	defer ch.Close()

	assert.True(t, ch.Choked())
	assert.Equal(t, remoteID, ch.RemoteID())
	assert.True(t, ch.HasPiece(0))
	assert.False(t, ch.HasPiece(1))
	assert.True(t, ch.HasPiece(2))
	assert.True(t, ch.HasPiece(9))
	assert.Equal(t, "pipe", ch.String())
}

func TestOpenRejectsWrongInfoHash(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		defer server.Close()
		if _, err := handshake.Read(server); err != nil {
			return
		}
		server.Write(handshake.New([20]byte{0xff}, remoteID).Serialize())
	}()

	_, err := Open(client, "pipe", infoHash, options(1))
	var hsErr *handshake.Error
	assert.ErrorAs(t, err, &hsErr)
}

func TestOpenRejectsWrongProtocol(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		defer server.Close()
		if _, err := handshake.Read(server); err != nil {
			return
		}
		reply := handshake.New(infoHash, remoteID)
		reply.Pstr = "BitTorrent_protocol"
		server.Write(reply.Serialize())
	}()

	_, err := Open(client, "pipe", infoHash, options(1))
	var hsErr *handshake.Error
	assert.ErrorAs(t, err, &hsErr)
}

func TestOpenRequiresBitfield(t *testing.T) {
	s := seeder(4)
	s.SkipBitfield = true

	_, err := Open(s.Pipe(), "pipe", infoHash, options(4))
	var protoErr *message.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, message.Unchoke, protoErr.ID)
}

func TestOpenWithOptionalBitfield(t *testing.T) {
	s := seeder(4)
	s.SkipBitfield = true
	opts := options(4)
	opts.RequireBitfield = false

	ch, err := Open(s.Pipe(), "pipe", infoHash, opts)
	require.NoError(t, err)
	defer ch.Close()

	// the first message was an unchoke and has been applied
	assert.False(t, ch.Choked())
	assert.False(t, ch.HasPiece(0))
}

func TestOpenRejectsShortBitfield(t *testing.T) {
	s := seeder(4)
	s.Have = bitfield.Bitfield{0xff, 0xff}

	_, err := Open(s.Pipe(), "pipe", infoHash, options(4))
	var protoErr *message.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestRequestNeedsUnchoke(t *testing.T) {
	s := seeder(2)
	ch, err := Open(s.Pipe(), "pipe", infoHash, options(2))
	require.NoError(t, err)
	defer ch.Close()

	assert.ErrorIs(t, ch.SendRequest(0, 0, 32), ErrChoked)

	require.NoError(t, ch.SendInterested())
	msg, err := ch.Read()
	require.NoError(t, err)
	assert.Equal(t, message.Unchoke, msg.ID)
	assert.False(t, ch.Choked())

	require.NoError(t, ch.SendRequest(1, 0, 32))
	msg, err = ch.Read()
	require.NoError(t, err)
	block, err := message.ReadPieceMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, 1, block.Index)
	assert.Len(t, block.Data, 32)
	assert.Equal(t, 1, s.Requests())
}

func TestReadAppliesState(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		defer server.Close()
		if _, err := handshake.Read(server); err != nil {
			return
		}
		server.Write(handshake.New(infoHash, remoteID).Serialize())
		for _, msg := range []*message.Message{
			{ID: message.Bitfield, Payload: []byte{0}},
			nil,
			{ID: message.Unchoke},
			message.CreateHaveMessage(3),
			{ID: message.Choke},
			{ID: message.Bitfield, Payload: []byte{0xff}},
		} {
			server.Write(msg.Serialize())
		}
	}()

	ch, err := Open(client, "pipe", infoHash, options(8))
	require.NoError(t, err)

	msg, err := ch.Read()
	require.NoError(t, err)
	assert.Nil(t, msg, "keep-alive")

	_, err = ch.Read()
	require.NoError(t, err)
	assert.False(t, ch.Choked())

	_, err = ch.Read()
	require.NoError(t, err)
	assert.True(t, ch.HasPiece(3))
	assert.Equal(t, bitfield.Bitfield{0b00010000}, ch.Bitfield())

	_, err = ch.Read()
	require.NoError(t, err)
	assert.True(t, ch.Choked())

	_, err = ch.Read()
	var protoErr *message.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestDialAll(t *testing.T) {
	s := seeder(3)
	l, err := s.Listen()
	require.NoError(t, err)
	defer l.Close()

	addr := l.Addr().(*net.TCPAddr)
	good := peer.Peer{IP: addr.IP, Port: uint16(addr.Port)}

	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.Addr().(*net.TCPAddr)
	dead.Close()
	bad := peer.Peer{IP: deadAddr.IP, Port: uint16(deadAddr.Port)}

	channels := DialAll(context.Background(), []peer.Peer{bad, good, good}, infoHash, 10, 0, options(3))
	require.Len(t, channels, 2)
	for _, ch := range channels {
		assert.True(t, ch.HasPiece(2))
		ch.Close()
	}

	channels = DialAll(context.Background(), []peer.Peer{good, good, good}, infoHash, 1, 100, options(3))
	require.Len(t, channels, 1)
	channels[0].Close()
}

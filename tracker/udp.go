package tracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"leech/helper"
	"leech/peer"
)

const (
	protocolID = 0x41727101980

	actionConnect  = 0
	actionAnnounce = 1
	actionError    = 3

	connectLen  = 16
	announceLen = 98

	// largest datagram read from a tracker
	maxDatagram = 2048
)

var udpEvents = map[string]uint32{"": 0, "completed": 1, "started": 2, "stopped": 3}

type connectRequest struct {
	TransactionID []byte
}

func (c *connectRequest) Serialize() []byte {
	buf := make([]byte, connectLen)
	binary.BigEndian.PutUint64(buf[0:8], protocolID)
	binary.BigEndian.PutUint32(buf[8:12], actionConnect)
	copy(buf[12:16], c.TransactionID)
	return buf
}

type announceRequest struct {
	ConnectionID  []byte
	TransactionID []byte
	Key           []byte
	Request
}

func (a *announceRequest) Serialize() []byte {
	buf := make([]byte, announceLen)
	copy(buf[0:8], a.ConnectionID)
	binary.BigEndian.PutUint32(buf[8:12], actionAnnounce)
	copy(buf[12:16], a.TransactionID)
	copy(buf[16:36], a.InfoHash[:])
	copy(buf[36:56], a.PeerID[:])
	binary.BigEndian.PutUint64(buf[56:64], uint64(a.Downloaded))
	binary.BigEndian.PutUint64(buf[64:72], uint64(a.Left))
	binary.BigEndian.PutUint64(buf[72:80], uint64(a.Uploaded))
	binary.BigEndian.PutUint32(buf[80:84], udpEvents[a.Event])
	// 84:88 is the IP address, 0 lets the tracker use the sender's
	copy(buf[88:92], a.Key)
	binary.BigEndian.PutUint32(buf[92:96], 0xFFFFFFFF) // num_want -1
	binary.BigEndian.PutUint16(buf[96:98], a.Port)
	return buf
}

// readReply checks the action and transaction id common to every tracker
// datagram and returns the rest of it.
func readReply(buf []byte, action uint32, transactionID []byte) ([]byte, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("short reply of %d bytes", len(buf))
	}
	if !bytes.Equal(buf[4:8], transactionID) {
		return nil, fmt.Errorf("expected TID %x received %x", transactionID, buf[4:8])
	}

	got := binary.BigEndian.Uint32(buf[0:4])
	if got == actionError {
		return nil, &FailureError{Reason: string(buf[8:])}
	}
	if got != action {
		return nil, fmt.Errorf("expected action %d received %d", action, got)
	}
	return buf[8:], nil
}

func (c *Client) roundTrip(conn net.Conn, request []byte, action uint32, transactionID []byte) ([]byte, error) {
	if _, err := conn.Write(request); err != nil {
		return nil, err
	}
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return readReply(buf[:n], action, transactionID)
}

func (c *Client) announceUDP(ctx context.Context, host string, req Request) (*Response, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", host)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if c.timeout > 0 {
		if limit := time.Now().Add(c.timeout); !ok || limit.Before(deadline) {
			deadline, ok = limit, true
		}
	}
	if ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	connectReq := &connectRequest{TransactionID: helper.GenerateRandomID(4)}
	body, err := c.roundTrip(conn, connectReq.Serialize(), actionConnect, connectReq.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if len(body) < 8 {
		return nil, fmt.Errorf("connect: short reply")
	}

	announceReq := &announceRequest{
		ConnectionID:  body[0:8],
		TransactionID: helper.GenerateRandomID(4),
		Key:           helper.GenerateRandomID(4),
		Request:       req,
	}
	body, err = c.roundTrip(conn, announceReq.Serialize(), actionAnnounce, announceReq.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("announce: %w", err)
	}
	if len(body) < 12 {
		return nil, fmt.Errorf("announce: short reply")
	}

	peers, err := peer.Unmarshal(body[12:])
	if err != nil {
		return nil, fmt.Errorf("announce: %w", err)
	}
	return &Response{
		Interval: time.Duration(binary.BigEndian.Uint32(body[0:4])) * time.Second,
		Leechers: int(binary.BigEndian.Uint32(body[4:8])),
		Seeders:  int(binary.BigEndian.Uint32(body[8:12])),
		Peers:    peers,
	}, nil
}

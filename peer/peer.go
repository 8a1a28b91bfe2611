package peer

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// Each peer is 6 bytes long: 4 for IP and 2 for port number.
const peerSize = 6

type Peer struct {
	IP   net.IP
	Port uint16
}

// Unmarshal peers list from the tracker.
//
// Hence, peers list has to be a multiple of 6.
func Unmarshal(peersBinary []byte) ([]Peer, error) {
	if len(peersBinary)%peerSize != 0 {
		err := fmt.Errorf("received malformed binary of peers with length %d", len(peersBinary))
		return nil, err
	}

	numPeers := len(peersBinary) / peerSize
	peers := make([]Peer, numPeers)
	for i := 0; i < numPeers; i++ {
		offset := i * peerSize
		peers[i].IP = net.IPv4(peersBinary[offset], peersBinary[offset+1], peersBinary[offset+2], peersBinary[offset+3])
		peers[i].Port = binary.BigEndian.Uint16(peersBinary[offset+4 : offset+6])
	}

	return peers, nil
}

// Return Peer ip and port with suitable format - ip:port
func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

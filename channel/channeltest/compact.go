package channeltest

import (
	"encoding/binary"
	"fmt"
	"net"

	"leech/peer"
)

// Compact packs the listeners' addresses into a tracker's compact peer list.
func Compact(listeners ...net.Listener) ([]byte, []peer.Peer, error) {
	var (
		buf   []byte
		peers []peer.Peer
	)
	for _, l := range listeners {
		addr, ok := l.Addr().(*net.TCPAddr)
		if !ok || addr.IP.To4() == nil {
			return nil, nil, fmt.Errorf("%s is not an IPv4 TCP address", l.Addr())
		}
		buf = append(buf, addr.IP.To4()...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(addr.Port))
		peers = append(peers, peer.Peer{IP: addr.IP, Port: uint16(addr.Port)})
	}
	return buf, peers, nil
}

package file

import (
	"sync"

	"leech/channel"
	"leech/peer"
	"leech/torrent"
)

// connectedPeers remembers which peers have a live connection so that a
// re-announce only dials the others. A peer is forgotten once its
// connection is closed, whoever closes it.
type connectedPeers struct {
	mu   sync.Mutex
	live map[string]bool
}

func newConnectedPeers() *connectedPeers {
	return &connectedPeers{live: make(map[string]bool)}
}

// fresh filters out peers that are connected right now.
func (c *connectedPeers) fresh(peers []peer.Peer) []peer.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []peer.Peer
	for _, p := range peers {
		if !c.live[p.String()] {
			out = append(out, p)
		}
	}
	return out
}

// track marks the channel's peer as connected until the returned
// connection is closed.
func (c *connectedPeers) track(ch *channel.Channel) torrent.Conn {
	c.mu.Lock()
	c.live[ch.String()] = true
	c.mu.Unlock()
	return &trackedConn{Channel: ch, peers: c}
}

type trackedConn struct {
	*channel.Channel
	peers *connectedPeers
	once  sync.Once
}

func (t *trackedConn) Close() error {
	t.once.Do(func() {
		t.peers.mu.Lock()
		delete(t.peers.live, t.Channel.String())
		t.peers.mu.Unlock()
	})
	return t.Channel.Close()
}

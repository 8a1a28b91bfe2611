package file

import (
	"context"

	"leech/config"
	"leech/peer"
	"leech/tracker"
)

// Get list of peers from the first tracker that has any.
func (tf *TorrentFile) requestPeers(ctx context.Context, client *tracker.Client, cfg config.Config, event string) ([]peer.Peer, error) {
	req := tracker.Request{
		InfoHash: tf.InfoHash,
		PeerID:   cfg.PeerID,
		Port:     cfg.Port,
		Left:     int64(tf.TotalLength()),
		Event:    event,
	}
	res, err := client.AnnounceAny(ctx, tf.Trackers(), req)
	if err != nil {
		return nil, err
	}
	return res.Peers, nil
}

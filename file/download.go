package file

import (
	"context"

	"github.com/rs/zerolog"

	"leech/channel"
	"leech/config"
	"leech/torrent"
	"leech/tracker"
)

// DownloadToFile announces to the torrent's trackers, connects to the peers
// they return and writes every verified piece to path. When no connected
// peer has a piece, the trackers are asked again.
func (tf *TorrentFile) DownloadToFile(ctx context.Context, path string, cfg config.Config, log zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	client := tracker.NewClient(cfg.TrackerTimeout, log)
	opts := channel.Options{
		PeerID:           cfg.PeerID,
		DialTimeout:      cfg.DialTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		NumPieces:        tf.NumPieces(),
		RequireBitfield:  cfg.RequireBitfield,
		Log:              log,
	}

	connected := newConnectedPeers()
	event := "started"
	connect := func(ctx context.Context) ([]torrent.Conn, error) {
		peers, err := tf.requestPeers(ctx, client, cfg, event)
		if err != nil {
			return nil, err
		}
		event = ""

		channels := channel.DialAll(ctx, connected.fresh(peers), tf.InfoHash, cfg.MaxPeers, cfg.DialRate, opts)
		conns := make([]torrent.Conn, len(channels))
		for i, ch := range channels {
			conns[i] = connected.track(ch)
		}
		log.Info().Int("peers", len(peers)).Int("connected", len(conns)).Msg("Connected to peers")
		return conns, nil
	}

	conns, err := connect(ctx)
	if err != nil {
		return err
	}

	w, err := NewWriter(path, tf.Info)
	if err != nil {
		for _, c := range conns {
			c.Close()
		}
		return err
	}

	log.Debug().Strs("files", w.Paths()).Msg("Writing")

	t := torrent.Torrent{
		InfoHash:    tf.InfoHash,
		PieceHashes: tf.Info.PieceHashes,
		PieceLength: tf.Info.PieceLength,
		Length:      tf.TotalLength(),
		Name:        tf.Info.Name,
		Discover:    connect,
		Config:      cfg,
		Log:         log,
	}
	err = t.Run(ctx, conns, func(r torrent.Result) error {
		_, err := w.WriteAt(r.Data, r.Offset)
		return err
	})

	closeErr := w.Close()
	if err != nil {
		return err
	}
	return closeErr
}

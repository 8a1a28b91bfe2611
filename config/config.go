package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// BlockSize is the largest block any peer is expected to serve (16 KiB).
const BlockSize = 16 * 1024

type Config struct {
	PeerID [20]byte // our identity on the wire
	Port   uint16   // advertised to trackers; nothing listens on it

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration // handshake and first bitfield
	RequestTimeout   time.Duration // 0 waits forever for a requested block
	TrackerTimeout   time.Duration

	MaxPeers  int     // connections kept open at once
	DialRate  float64 // new connections per second, 0 for unlimited
	BlockSize int

	MaxPieceAttempts int // hash failures tolerated per piece, plus one
	MaxReannounces   int // tracker round trips when a piece has no peers
	RequireBitfield  bool

	ShowDownloadProgress bool
	LogLevel             zerolog.Level
}

// Default returns the configuration used when nothing is overridden.
// The peer ID is left zero; callers set it with helper.GeneratePeerID.
func Default() Config {
	return Config{
		Port:                 6881,
		DialTimeout:          5 * time.Second,
		HandshakeTimeout:     5 * time.Second,
		RequestTimeout:       30 * time.Second,
		TrackerTimeout:       15 * time.Second,
		MaxPeers:             30,
		DialRate:             10,
		BlockSize:            BlockSize,
		MaxPieceAttempts:     3,
		MaxReannounces:       2,
		RequireBitfield:      true,
		ShowDownloadProgress: true,
		LogLevel:             zerolog.InfoLevel,
	}
}

func (c Config) Validate() error {
	if c.PeerID == [20]byte{} {
		return fmt.Errorf("peer id is not set")
	}
	if c.BlockSize <= 0 || c.BlockSize > BlockSize {
		return fmt.Errorf("block size %d outside (0, %d]", c.BlockSize, BlockSize)
	}
	if c.MaxPeers <= 0 {
		return fmt.Errorf("max peers must be positive, got %d", c.MaxPeers)
	}
	if c.MaxPieceAttempts <= 0 {
		return fmt.Errorf("max piece attempts must be positive, got %d", c.MaxPieceAttempts)
	}
	if c.MaxReannounces < 0 || c.DialRate < 0 {
		return fmt.Errorf("negative limits are not allowed")
	}
	if c.DialTimeout < 0 || c.HandshakeTimeout < 0 || c.RequestTimeout < 0 || c.TrackerTimeout < 0 {
		return fmt.Errorf("negative timeouts are not allowed")
	}
	return nil
}

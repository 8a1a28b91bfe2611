package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"leech/config"
	"leech/file"
	"leech/helper"
)

func main() {
	cfg := config.Default()
	logLevel := flag.String("log-level", cfg.LogLevel.String(), "trace, debug, info, warn or error")
	port := flag.Uint("port", uint(cfg.Port), "port advertised to trackers")
	flag.IntVar(&cfg.MaxPeers, "peers", cfg.MaxPeers, "maximum number of peer connections")
	flag.Float64Var(&cfg.DialRate, "dial-rate", cfg.DialRate, "new connections per second, 0 for unlimited")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "drop a peer that takes longer than this to send a block, 0 to wait forever")
	flag.DurationVar(&cfg.TrackerTimeout, "tracker-timeout", cfg.TrackerTimeout, "timeout for one tracker announce")
	flag.IntVar(&cfg.MaxPieceAttempts, "piece-attempts", cfg.MaxPieceAttempts, "downloads of a piece before a hash mismatch is fatal")
	flag.IntVar(&cfg.MaxReannounces, "reannounces", cfg.MaxReannounces, "tracker re-announces when no peer has a piece")
	flag.BoolVar(&cfg.RequireBitfield, "require-bitfield", cfg.RequireBitfield, "disconnect peers that do not start with a bitfield")
	flag.BoolVar(&cfg.ShowDownloadProgress, "progress", cfg.ShowDownloadProgress, "show a progress bar")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file.torrent> <output path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	inputPath := flag.Arg(0)
	outputPath := flag.Arg(1)

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Bad log level")
	}
	cfg.LogLevel = level
	log = log.Level(level)

	if *port > 65535 {
		log.Fatal().Uint("port", *port).Msg("Bad port")
	}
	cfg.Port = uint16(*port)
	cfg.PeerID = helper.GeneratePeerID()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Bad configuration")
	}

	tf, err := file.Open(inputPath)
	if err != nil {
		log.Fatal().Err(err).Str("torrent", inputPath).Msg("Could not open torrent")
	}
	log.Info().
		Str("name", tf.Info.Name).
		Hex("infohash", tf.InfoHash[:]).
		Int("pieces", tf.NumPieces()).
		Int("length", tf.TotalLength()).
		Msg("Opened torrent")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := tf.DownloadToFile(ctx, outputPath, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Download failed")
	}
	log.Info().Str("path", outputPath).Msg("Download complete")
}

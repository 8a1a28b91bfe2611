// Package torrent downloads and verifies the pieces of a torrent from a set
// of connected peers.
package torrent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/rs/zerolog"

	"leech/config"
	"leech/message"
)

// Conn is a handshaken peer connection. *channel.Channel implements it.
type Conn interface {
	HasPiece(index int) bool
	Choked() bool
	SendInterested() error
	SendRequest(index, begin, length int) error
	Read() (*message.Message, error)
	SetDeadline(t time.Time) error
	Close() error
	String() string
}

// Result is a verified piece and where it belongs in the content.
type Result struct {
	Index  int
	Offset int64
	Data   []byte
}

type Torrent struct {
	InfoHash    [20]byte
	PieceHashes [][20]byte
	PieceLength int
	Length      int
	Name        string

	// Discover, if set, is asked for more connections when no connected
	// peer has the next piece. It is called at most Config.MaxReannounces
	// times per download.
	Discover func(ctx context.Context) ([]Conn, error)

	Config config.Config
	Log    zerolog.Logger
}

var errStarved = errors.New("every peer working on the piece disconnected")

type downloader struct {
	t         *Torrent
	blockSize int
	attempts  int

	ctx         context.Context
	wg          sync.WaitGroup
	mu          sync.Mutex
	sessions    []*session
	reannounces int
}

func (d *downloader) add(conns []Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, conn := range conns {
		s := newSession(conn, d.t.Config.RequestTimeout, d.t.Log)
		d.sessions = append(d.sessions, s)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			s.run(d.ctx)
		}()
	}
}

// candidates are the live sessions whose peer has the piece.
func (d *downloader) candidates(index int) []*session {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*session
	for _, s := range d.sessions {
		if !s.isDead() && s.conn.HasPiece(index) {
			out = append(out, s)
		}
	}
	return out
}

func (d *downloader) activePeers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sessions {
		if !s.isDead() {
			n++
		}
	}
	return n
}

func (d *downloader) closeAll() {
	d.mu.Lock()
	sessions := d.sessions
	d.mu.Unlock()
	for _, s := range sessions {
		s.conn.Close()
	}
	d.wg.Wait()
}

// rediscover asks for more peers when nobody has the piece.
func (d *downloader) rediscover(ctx context.Context, index int) error {
	if d.t.Discover == nil || d.reannounces >= d.t.Config.MaxReannounces {
		return &NoPeersError{Index: index}
	}
	d.reannounces++

	d.t.Log.Info().Int("piece", index).Int("round", d.reannounces).Msg("No peer has piece, looking for more")
	conns, err := d.t.Discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.t.Log.Warn().Err(err).Msg("Peer discovery failed")
		return nil
	}
	d.add(conns)
	return nil
}

// attempt fans the blocks of p out to sessions and collects them. It
// returns the assembled buffer and the sessions that contributed to it.
func (d *downloader) attempt(ctx context.Context, p *piece, sessions []*session) ([]byte, map[*session]bool, error) {
	j := newJob(p, d.blockSize)
	defer close(j.done)

	for _, s := range sessions {
		s.offer(j)
	}
	j.release()

	asm := newAssembler(p.length, d.blockSize)
	contributors := make(map[*session]bool)
	collect := func(b block) {
		if err := asm.put(b.begin, b.data); err != nil {
			d.t.Log.Debug().Err(err).Int("piece", p.index).Msg("Dropping block")
			return
		}
		contributors[b.from] = true
	}

	for !asm.complete() {
		select {
		case b := <-j.results:
			collect(b)
		case <-j.idle:
			for drained := false; !drained; {
				select {
				case b := <-j.results:
					collect(b)
				default:
					drained = true
				}
			}
			if !asm.complete() {
				return nil, contributors, errStarved
			}
		case <-ctx.Done():
			return nil, contributors, ctx.Err()
		}
	}
	return asm.buf, contributors, nil
}

func (d *downloader) downloadPiece(ctx context.Context, p *piece) ([]byte, error) {
	implicated := make(map[*session]bool)
	var lastErr error

	for attempts := 0; attempts < d.attempts; {
		sessions := d.candidates(p.index)
		if len(sessions) == 0 {
			if err := d.rediscover(ctx, p.index); err != nil {
				return nil, err
			}
			continue
		}

		// prefer peers that had no part in a failed attempt
		var fresh []*session
		for _, s := range sessions {
			if !implicated[s] {
				fresh = append(fresh, s)
			}
		}
		if len(fresh) > 0 {
			sessions = fresh
		} else if attempts > 0 {
			// everyone is suspect: source the whole piece from one peer
			sessions = sessions[attempts%len(sessions) : attempts%len(sessions)+1]
		}

		buf, contributors, err := d.attempt(ctx, p, sessions)
		if errors.Is(err, errStarved) {
			continue
		}
		if err != nil {
			return nil, err
		}

		attempts++
		if err := checkIntegrity(p, buf, attempts); err != nil {
			d.t.Log.Warn().Int("piece", p.index).Int("attempt", attempts).Msg("Piece failed integrity check")
			for s := range contributors {
				implicated[s] = true
			}
			lastErr = err
			continue
		}
		return buf, nil
	}
	return nil, lastErr
}

func (t *Torrent) validate() error {
	if t.PieceLength <= 0 || t.Length <= 0 {
		return fmt.Errorf("piece length %d and length %d must be positive", t.PieceLength, t.Length)
	}
	if n := (t.Length + t.PieceLength - 1) / t.PieceLength; n != len(t.PieceHashes) {
		return fmt.Errorf("%d piece hashes for %d pieces", len(t.PieceHashes), n)
	}
	return nil
}

func (t *Torrent) downloadProgress(d *downloader) (*uiprogress.Progress, *uiprogress.Bar) {
	progress := uiprogress.New()
	progress.Start()
	bar := progress.AddBar(len(t.PieceHashes))
	bar.AppendCompleted()
	bar.AppendFunc(func(b *uiprogress.Bar) string {
		return "pieces: " + strconv.Itoa(b.Current()) + "/" + strconv.Itoa(len(t.PieceHashes))
	})
	bar.AppendFunc(func(b *uiprogress.Bar) string {
		return "peers: " + strconv.Itoa(d.activePeers())
	})
	bar.AppendElapsed()
	return progress, bar
}

// Run downloads every piece in order and hands each verified piece to
// deliver. Run takes ownership of conns and closes them before returning.
// An error from deliver stops the download and is returned as is.
func (t *Torrent) Run(ctx context.Context, conns []Conn, deliver func(Result) error) error {
	ctx, cancel := context.WithCancel(ctx)
	d := &downloader{
		t:         t,
		blockSize: t.Config.BlockSize,
		attempts:  t.Config.MaxPieceAttempts,
		ctx:       ctx,
	}
	defer d.closeAll()
	defer cancel()

	d.add(conns)
	if err := t.validate(); err != nil {
		return err
	}
	if d.blockSize <= 0 {
		d.blockSize = config.BlockSize
	}
	if d.attempts <= 0 {
		d.attempts = 1
	}

	// without a way to find more peers, a piece nobody has is fatal up front
	if t.Discover == nil {
		for index := range t.PieceHashes {
			if len(d.candidates(index)) == 0 {
				return &NoPeersError{Index: index}
			}
		}
	}

	var progressBar *uiprogress.Bar
	if t.Config.ShowDownloadProgress {
		var progress *uiprogress.Progress
		progress, progressBar = t.downloadProgress(d)
		defer progress.Stop()
	}

	donePieces := 0
	for index, hash := range t.PieceHashes {
		p := &piece{index: index, hash: hash, length: t.calcPieceSize(index)}
		buf, err := d.downloadPiece(ctx, p)
		if err != nil {
			return err
		}

		begin, _ := t.calcPieceBounds(index)
		if err := deliver(Result{Index: index, Offset: int64(begin), Data: buf}); err != nil {
			return err
		}
		donePieces++

		percent := float64(donePieces) / float64(len(t.PieceHashes)) * 100
		t.Log.Info().Int("piece", index).Str("percent", fmt.Sprintf("%0.2f%%", percent)).Msg("Downloaded piece")
		if progressBar != nil {
			progressBar.Incr()
		}
	}
	return nil
}

// Download fetches the whole content into memory.
func (t *Torrent) Download(ctx context.Context, conns []Conn) ([]byte, error) {
	buffer := make([]byte, t.Length)
	err := t.Run(ctx, conns, func(r Result) error {
		copy(buffer[r.Offset:], r.Data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

package torrent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"leech/message"
)

var errChoked = errors.New("choked while waiting for a block")

type block struct {
	begin int
	data  []byte
	from  *session
}

// job is one attempt at one piece, shared by every session working on it.
type job struct {
	piece     *piece
	blockSize int

	queue   chan int   // block indices still to fetch
	results chan block // fetched blocks
	done    chan struct{}

	// sessions holding the job; idle is closed when it drops to zero
	active   int32
	idle     chan struct{}
	idleOnce sync.Once
}

func newJob(p *piece, blockSize int) *job {
	n := blockCount(p.length, blockSize)
	j := &job{
		piece:     p,
		blockSize: blockSize,
		queue:     make(chan int, n),
		results:   make(chan block, n),
		done:      make(chan struct{}),
		active:    1,
		idle:      make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		j.queue <- i
	}
	return j
}

func (j *job) acquire() {
	atomic.AddInt32(&j.active, 1)
}

func (j *job) release() {
	if atomic.AddInt32(&j.active, -1) == 0 {
		j.idleOnce.Do(func() { close(j.idle) })
	}
}

// session owns one connection for the whole download. Only its goroutine
// touches the connection, apart from HasPiece and Close.
type session struct {
	conn    Conn
	jobs    chan *job
	timeout time.Duration
	log     zerolog.Logger

	mu   sync.Mutex
	dead bool
}

func newSession(conn Conn, timeout time.Duration, log zerolog.Logger) *session {
	return &session{
		conn:    conn,
		jobs:    make(chan *job, 1),
		timeout: timeout,
		log:     log.With().Str("peer", conn.String()).Logger(),
	}
}

func (s *session) isDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

// offer hands j to the session, replacing any job it has not started yet.
// It reports false once the session has died.
func (s *session) offer(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return false
	}

	j.acquire()
	select {
	case s.jobs <- j:
	default:
		// the session may pick the stale job up first
		select {
		case stale := <-s.jobs:
			stale.release()
		default:
		}
		// only offer sends, so the buffer is empty now
		s.jobs <- j
	}
	return true
}

func (s *session) shutdown() {
	s.mu.Lock()
	s.dead = true
	for pending := true; pending; {
		select {
		case j := <-s.jobs:
			j.release()
		default:
			pending = false
		}
	}
	s.mu.Unlock()
	s.conn.Close()
}

func (s *session) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case j := <-s.jobs:
			err := s.work(ctx, j)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Info().Err(err).Msg("Disconnecting")
				}
				s.shutdown()
				j.release()
				return
			}
			j.release()
		}
	}
}

// work fetches blocks of j until the piece is done. A block that cannot be
// fetched goes back on the queue for another session.
func (s *session) work(ctx context.Context, j *job) error {
	for {
		select {
		case <-j.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.awaitUnchoke(); err != nil {
			return err
		}

		var i int
		select {
		case i = <-j.queue:
		case <-j.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		begin, size := blockBounds(j.piece.length, j.blockSize, i)
		data, err := s.fetch(j.piece.index, begin, size)
		if err != nil {
			j.queue <- i
			if errors.Is(err, errChoked) {
				s.log.Debug().Int("piece", j.piece.index).Msg("Choked")
				continue
			}
			return err
		}

		select {
		case j.results <- block{begin: begin, data: data, from: s}:
		case <-j.done:
			return nil
		}
	}
}

func (s *session) setDeadline() {
	if s.timeout > 0 {
		s.conn.SetDeadline(time.Now().Add(s.timeout))
	} else {
		s.conn.SetDeadline(time.Time{})
	}
}

// awaitUnchoke declares interest and reads until the peer unchokes us.
func (s *session) awaitUnchoke() error {
	s.setDeadline()
	if err := s.conn.SendInterested(); err != nil {
		return err
	}
	for s.conn.Choked() {
		// late pieces and haves are consumed here
		if _, err := s.conn.Read(); err != nil {
			return err
		}
	}
	return nil
}

// fetch requests one block and reads until it arrives. Replies to earlier
// requests are discarded.
func (s *session) fetch(index, begin, length int) ([]byte, error) {
	s.setDeadline()
	if err := s.conn.SendRequest(index, begin, length); err != nil {
		return nil, err
	}

	for {
		msg, err := s.conn.Read()
		if err != nil {
			return nil, err
		}
		// keep-alive
		if msg == nil {
			continue
		}

		switch msg.ID {
		case message.Choke:
			return nil, errChoked
		case message.Piece:
			b, err := message.ReadPieceMessage(msg)
			if err != nil {
				return nil, err
			}
			if b.Index != index || b.Begin != begin {
				continue
			}
			if len(b.Data) != length {
				return nil, &message.ProtocolError{
					ID:     msg.ID,
					Reason: "block length does not match the request",
				}
			}
			return b.Data, nil
		}
	}
}

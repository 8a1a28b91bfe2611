package torrent

import "fmt"

// IntegrityError is returned when a piece keeps failing its hash check after
// every allowed attempt.
type IntegrityError struct {
	Index    int
	Expected [20]byte
	Got      [20]byte
	Attempts int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("piece #%d failed integrity check after %d attempt(s): expected %x, got %x", e.Index, e.Attempts, e.Expected, e.Got)
}

// NoPeersError is returned when no connected peer has a piece and no more
// peers can be found.
type NoPeersError struct {
	Index int
}

func (e *NoPeersError) Error() string {
	return fmt.Sprintf("no peer has piece #%d", e.Index)
}

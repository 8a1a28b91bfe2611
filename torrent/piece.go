package torrent

import (
	"crypto/sha1"
	"fmt"
)

type piece struct {
	index  int
	hash   [20]byte
	length int
}

// blockCount is ceil(length / blockSize).
func blockCount(length, blockSize int) int {
	return (length + blockSize - 1) / blockSize
}

// blockBounds returns the offset and size of block i. Every block is
// blockSize long except possibly the last.
func blockBounds(length, blockSize, i int) (begin, size int) {
	begin = i * blockSize
	size = blockSize
	if begin+size > length {
		size = length - begin
	}
	return begin, size
}

// assembler collects the blocks of one piece in any order.
type assembler struct {
	buf       []byte
	blockSize int
	have      []bool
	received  int
}

func newAssembler(length, blockSize int) *assembler {
	return &assembler{
		buf:       make([]byte, length),
		blockSize: blockSize,
		have:      make([]bool, blockCount(length, blockSize)),
	}
}

func (a *assembler) put(begin int, data []byte) error {
	if begin < 0 || begin%a.blockSize != 0 || begin >= len(a.buf) {
		return fmt.Errorf("block at %d is not aligned to a block of a %d byte piece", begin, len(a.buf))
	}
	i := begin / a.blockSize
	if _, size := blockBounds(len(a.buf), a.blockSize, i); len(data) != size {
		return fmt.Errorf("block at %d has %d bytes, want %d", begin, len(data), size)
	}
	if a.have[i] {
		return fmt.Errorf("block at %d received twice", begin)
	}

	a.have[i] = true
	a.received += copy(a.buf[begin:], data)
	return nil
}

func (a *assembler) complete() bool {
	return a.received == len(a.buf)
}

func checkIntegrity(p *piece, buf []byte, attempts int) error {
	hash := sha1.Sum(buf)
	if hash != p.hash {
		return &IntegrityError{Index: p.index, Expected: p.hash, Got: hash, Attempts: attempts}
	}
	return nil
}

func (t *Torrent) calcPieceBounds(index int) (int, int) {
	begin := index * t.PieceLength
	end := begin + t.PieceLength
	if end > t.Length {
		end = t.Length
	}
	return begin, end
}

func (t *Torrent) calcPieceSize(index int) int {
	begin, end := t.calcPieceBounds(index)
	return end - begin
}

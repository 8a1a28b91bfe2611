package bitfield

// Is only sent as the first message immediately after handshake.
// Used to efficiently encode which pieces peers are able to send.
// Note: pieces are zero indexed and bits are read high bit first.
//
// Example:
//   - [0 0 1 0 1 0 0 0] (only pieces 2 and 4 are available)
//   - [1 1 1 1 1 1 1 1] (only pieces in the interval [0, 7] are available)
//   - [0 0 0 0 0 0 0 0] [0 0 0 0 0 0 0 1] (only piece 15 is available)
type Bitfield []byte

// New returns an empty bitfield large enough for numPieces pieces.
func New(numPieces int) Bitfield {
	return make(Bitfield, (numPieces+7)/8)
}

// Check if piece at the given index can be sent by peer(s).
// Indexes outside the bitfield are reported as missing.
func (bf Bitfield) HasPiece(index int) bool {
	byteIndex := index / 8 // determine which byte we need
	offset := index % 8    // determine offset within that byte
	if index < 0 || byteIndex >= len(bf) {
		return false
	}
	return bf[byteIndex]>>(7-offset)&1 != 0
}

// Set piece at the given index as available to be sent by peer(s).
// Indexes outside the bitfield are ignored.
func (bf Bitfield) SetPiece(index int) {
	byteIndex := index / 8
	offset := index % 8
	if index < 0 || byteIndex >= len(bf) {
		return
	}
	bf[byteIndex] |= 1 << (7 - offset)
}

// Count returns how many of the first numPieces pieces are set.
func (bf Bitfield) Count(numPieces int) int {
	n := 0
	for i := 0; i < numPieces; i++ {
		if bf.HasPiece(i) {
			n++
		}
	}
	return n
}

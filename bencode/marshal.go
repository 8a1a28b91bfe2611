package bencode

import (
	"bytes"

	jbencode "github.com/jackpal/bencode-go"
)

// Unmarshal checks that data is a single well-formed bencode value and then
// fills the struct pointed to by v, matching fields by their `bencode` tags.
func Unmarshal(data []byte, v interface{}) error {
	if _, err := DecodeAll(data); err != nil {
		return err
	}
	return jbencode.Unmarshal(bytes.NewReader(data), v)
}

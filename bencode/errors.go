package bencode

import "fmt"

// SyntaxError reports input that does not match the bencode grammar.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("bencode: %s at offset %d", e.Msg, e.Offset)
}

// TypeError reports a value of the wrong kind, such as a non-string
// dictionary key.
type TypeError struct {
	Offset int
	Want   Kind
	Got    Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("bencode: expected %s but got %s at offset %d", e.Want, e.Got, e.Offset)
}

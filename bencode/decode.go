package bencode

import (
	"strconv"
)

// deeper nesting than this is rejected rather than recursed into
const maxDepth = 256

type decoder struct {
	data  []byte
	pos   int
	depth int
}

// Decode parses one value from the front of data and returns it together
// with the bytes that follow it.
//
// Integers and string lengths must be canonical: no leading zeros other
// than a lone 0, and no negative zero. Dictionary key order is not checked.
func Decode(data []byte) (Value, []byte, error) {
	d := decoder{data: data}
	v, err := d.value()
	if err != nil {
		return Value{}, nil, err
	}
	return v, data[d.pos:], nil
}

// DecodeAll parses data as exactly one value with nothing after it.
func DecodeAll(data []byte) (Value, error) {
	v, rest, err := Decode(data)
	if err != nil {
		return Value{}, err
	}
	if len(rest) != 0 {
		return Value{}, &SyntaxError{Offset: len(data) - len(rest), Msg: "trailing data"}
	}
	return v, nil
}

func (d *decoder) errorf(msg string) error {
	return &SyntaxError{Offset: d.pos, Msg: msg}
}

func (d *decoder) value() (Value, error) {
	if d.pos >= len(d.data) {
		return Value{}, d.errorf("unexpected end of input")
	}

	start := d.pos
	var (
		v   Value
		err error
	)
	switch c := d.data[d.pos]; {
	case c == 'i':
		v, err = d.integer()
	case c >= '0' && c <= '9':
		var s []byte
		s, err = d.str()
		v = Value{Kind: KindString, Str: s}
	case c == 'l':
		v, err = d.list()
	case c == 'd':
		v, err = d.dict()
	default:
		return Value{}, d.errorf("invalid value prefix " + strconv.QuoteRune(rune(c)))
	}
	if err != nil {
		return Value{}, err
	}
	v.Raw = d.data[start:d.pos]
	return v, nil
}

// digits consumes an optionally negative run of decimal digits and
// returns it unparsed after checking it is canonical.
func (d *decoder) digits(allowNegative bool) (string, error) {
	start := d.pos
	if allowNegative && d.pos < len(d.data) && d.data[d.pos] == '-' {
		d.pos++
	}
	first := d.pos
	for d.pos < len(d.data) && d.data[d.pos] >= '0' && d.data[d.pos] <= '9' {
		d.pos++
	}
	if d.pos == first {
		if d.pos >= len(d.data) {
			return "", d.errorf("unexpected end of input")
		}
		return "", d.errorf("expected digit")
	}
	if d.data[first] == '0' {
		if first != start {
			return "", &SyntaxError{Offset: start, Msg: "negative zero"}
		}
		if d.pos-first > 1 {
			return "", &SyntaxError{Offset: start, Msg: "leading zero"}
		}
	}
	return string(d.data[start:d.pos]), nil
}

func (d *decoder) expect(c byte) error {
	if d.pos >= len(d.data) {
		return d.errorf("unexpected end of input")
	}
	if d.data[d.pos] != c {
		return d.errorf("expected " + strconv.QuoteRune(rune(c)))
	}
	d.pos++
	return nil
}

func (d *decoder) integer() (Value, error) {
	d.pos++ // 'i'
	start := d.pos
	text, err := d.digits(true)
	if err != nil {
		return Value{}, err
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Value{}, &SyntaxError{Offset: start, Msg: "integer out of range"}
	}
	if err := d.expect('e'); err != nil {
		return Value{}, err
	}
	return NewInt(n), nil
}

func (d *decoder) str() ([]byte, error) {
	start := d.pos
	text, err := d.digits(false)
	if err != nil {
		return nil, err
	}
	if err := d.expect(':'); err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(text)
	if err != nil || n > len(d.data)-d.pos {
		return nil, &SyntaxError{Offset: start, Msg: "string length exceeds input"}
	}
	s := d.data[d.pos : d.pos+n]
	d.pos += n
	return s, nil
}

func (d *decoder) enter() error {
	d.depth++
	if d.depth > maxDepth {
		return d.errorf("nesting too deep")
	}
	return nil
}

func (d *decoder) list() (Value, error) {
	if err := d.enter(); err != nil {
		return Value{}, err
	}
	defer func() { d.depth-- }()

	d.pos++ // 'l'
	items := []Value{}
	for {
		if d.pos >= len(d.data) {
			return Value{}, d.errorf("unterminated list")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return NewList(items...), nil
		}
		v, err := d.value()
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
	}
}

func (d *decoder) dict() (Value, error) {
	if err := d.enter(); err != nil {
		return Value{}, err
	}
	defer func() { d.depth-- }()

	d.pos++ // 'd'
	entries := []Entry{}
	for {
		if d.pos >= len(d.data) {
			return Value{}, d.errorf("unterminated dictionary")
		}
		c := d.data[d.pos]
		if c == 'e' {
			d.pos++
			return NewDict(entries...), nil
		}
		if c < '0' || c > '9' {
			if kind := kindOf(c); kind != 0 {
				return Value{}, &TypeError{Offset: d.pos, Want: KindString, Got: kind}
			}
			return Value{}, d.errorf("invalid dictionary key")
		}
		key, err := d.str()
		if err != nil {
			return Value{}, err
		}
		v, err := d.value()
		if err != nil {
			return Value{}, err
		}
		entries = append(entries, Entry{Key: key, Value: v})
	}
}

func kindOf(c byte) Kind {
	switch c {
	case 'i':
		return KindInt
	case 'l':
		return KindList
	case 'd':
		return KindDict
	}
	return 0
}

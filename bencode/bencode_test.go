package bencode

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	zbencode "github.com/zeebo/bencode"
)

func decodeAndAssert(t *testing.T, input string, expected Value) {
	t.Helper()
	decoded, err := DecodeAll([]byte(input))
	require.NoError(t, err, "decoding %q", input)
	if diff := cmp.Diff(expected, decoded); diff != "" {
		t.Errorf("decode %q mismatch (-want +got):\n%s", input, diff)
	}
}

func TestDecodeInteger(t *testing.T) {
	decodeAndAssert(t, "i123e", NewInt(123))
	decodeAndAssert(t, "i-123e", NewInt(-123))
	decodeAndAssert(t, "i0e", NewInt(0))
	decodeAndAssert(t, "i9223372036854775807e", NewInt(9223372036854775807))
}

func TestDecodeString(t *testing.T) {
	decodeAndAssert(t, "5:hello", NewString("hello"))
	decodeAndAssert(t, "0:", NewString(""))
	decodeAndAssert(t, "3:\x00\xff:", NewBytes([]byte{0x00, 0xff, ':'}))
}

func TestDecodeList(t *testing.T) {
	decodeAndAssert(t, "li1ei2ei3ee", NewList(NewInt(1), NewInt(2), NewInt(3)))
	decodeAndAssert(t, "le", NewList())
	decodeAndAssert(t, "lli1eel9:test testelee",
		NewList(NewList(NewInt(1)), NewList(NewString("test test")), NewList()))
}

func TestDecodeDictionary(t *testing.T) {
	decodeAndAssert(t, "d3:key5:valuee", NewDict(Entry{Key: []byte("key"), Value: NewString("value")}))
	decodeAndAssert(t, "d4:dictd9:space keyi4eee", NewDict(Entry{
		Key:   []byte("dict"),
		Value: NewDict(Entry{Key: []byte("space key"), Value: NewInt(4)}),
	}))
	decodeAndAssert(t, "de", NewDict())
}

func TestDecodeReturnsRemainder(t *testing.T) {
	v, rest, err := Decode([]byte("i42e3:abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int)
	assert.Equal(t, "3:abc", string(rest))
	assert.Equal(t, "i42e", string(v.Raw))
}

func TestDecodeRawSpans(t *testing.T) {
	input := "d8:announce3:url4:infod4:name1:x6:lengthi7eee"
	v, err := DecodeAll([]byte(input))
	require.NoError(t, err)

	info, ok := v.Get("info")
	require.True(t, ok)
	assert.Equal(t, "d4:name1:x6:lengthi7ee", string(info.Raw))
	assert.Equal(t, input, string(v.Raw))
}

func TestMalformedBencode(t *testing.T) {
	tests := map[string]string{
		"leading zero":           "i03e",
		"negative zero":          "i-0e",
		"negative leading zero":  "i-03e",
		"empty integer":          "ie",
		"lone minus":             "i-e",
		"unterminated integer":   "i125",
		"bad integer terminator": "i125i",
		"unterminated list":      "li13i2e",
		"unterminated dict":      "d3:key",
		"truncated string":       "5:abc",
		"string length zeros":    "03:abc",
		"missing colon":          "3abc",
		"bad prefix":             "x",
		"empty input":            "",
		"trailing data":          "i1ei2e",
		"dict missing value":     "d3:keye",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeAll([]byte(input))
			require.Error(t, err)
			var syntaxErr *SyntaxError
			assert.True(t, errors.As(err, &syntaxErr), "want *SyntaxError, got %T", err)
		})
	}
}

func TestNonStringDictionaryKey(t *testing.T) {
	_, err := DecodeAll([]byte("di1ei2ee"))
	var typeErr *TypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, KindString, typeErr.Want)
	assert.Equal(t, KindInt, typeErr.Got)
	assert.Equal(t, 1, typeErr.Offset)
}

func TestDecodeDoesNotEnforceKeyOrder(t *testing.T) {
	v, err := DecodeAll([]byte("d1:bi2e1:ai1ee"))
	require.NoError(t, err)
	assert.Equal(t, "d1:ai1e1:bi2ee", string(Encode(v)))
}

func TestEncode(t *testing.T) {
	tests := []struct {
		want string
		v    Value
	}{
		{"i123e", NewInt(123)},
		{"i-123e", NewInt(-123)},
		{"i0e", NewInt(0)},
		{"5:hello", NewString("hello")},
		{"0:", NewString("")},
		{"li1ei2ei3ee", NewList(NewInt(1), NewInt(2), NewInt(3))},
		{"le", NewList()},
		{"de", NewDict()},
		{"d3:key5:valuee", NewDict(Entry{Key: []byte("key"), Value: NewString("value")})},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(Encode(tt.v)))
	}
}

func TestEncodeSortsByRawBytes(t *testing.T) {
	v := NewDict(
		Entry{Key: []byte("b"), Value: NewInt(1)},
		Entry{Key: []byte{0xc3, 0xa9}, Value: NewInt(2)}, // é sorts after ASCII by bytes
		Entry{Key: []byte("B"), Value: NewInt(3)},
		Entry{Key: []byte("a"), Value: NewInt(4)},
	)
	assert.Equal(t, "d1:Bi3e1:ai4e1:bi1e2:\xc3\xa9i2ee", string(Encode(v)))
}

func TestEncodeMatchesIndependentEncoder(t *testing.T) {
	native := map[string]interface{}{
		"announce": "http://tracker/announce",
		"info": map[string]interface{}{
			"name":         "file.iso",
			"piece length": 262144,
			"length":       620000,
			"pieces":       "01234567890123456789",
		},
		"list": []interface{}{1, "two", []interface{}{}},
	}
	want, err := zbencode.EncodeBytes(native)
	require.NoError(t, err)

	v, err := DecodeAll(want)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(Encode(v)))
}

func TestRoundTrip(t *testing.T) {
	values := []Value{
		NewInt(0),
		NewInt(-1),
		NewInt(1 << 40),
		NewBytes([]byte{0, 1, 2, 'e', 'd', 'l', 'i'}),
		NewList(),
		NewDict(),
		NewList(NewDict(Entry{Key: []byte("k"), Value: NewList(NewInt(7), NewString(""))})),
		NewDict(
			Entry{Key: []byte("zz"), Value: NewInt(-42)},
			Entry{Key: []byte(""), Value: NewString("empty key")},
			Entry{Key: []byte("nested"), Value: NewDict(Entry{Key: []byte("x"), Value: NewList(NewList())})},
		),
	}
	for _, v := range values {
		encoded := Encode(v)
		decoded, err := DecodeAll(encoded)
		require.NoError(t, err, "decoding %q", encoded)
		if diff := cmp.Diff(v, decoded); diff != "" {
			t.Errorf("round trip of %q mismatch (-want +got):\n%s", encoded, diff)
		}
		// canonical input re-encodes to the identical bytes
		assert.Equal(t, string(encoded), string(Encode(decoded)))
	}
}

func TestDeepNestingRejected(t *testing.T) {
	input := make([]byte, 0, 2*(maxDepth+1))
	for i := 0; i <= maxDepth; i++ {
		input = append(input, 'l')
	}
	for i := 0; i <= maxDepth; i++ {
		input = append(input, 'e')
	}
	_, err := DecodeAll(input)
	require.Error(t, err)
}

type trackerReply struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
}

func TestUnmarshal(t *testing.T) {
	var reply trackerReply
	err := Unmarshal([]byte("d8:intervali900e5:peers6:abcdefe"), &reply)
	require.NoError(t, err)
	assert.Equal(t, 900, reply.Interval)
	assert.Equal(t, "abcdef", reply.Peers)
	assert.Empty(t, reply.FailureReason)

	err = Unmarshal([]byte("d8:intervali09ee"), &reply)
	var syntaxErr *SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

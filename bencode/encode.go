package bencode

import (
	"bytes"
	"sort"
	"strconv"
)

// Encode serializes v. Dictionary keys are always written in raw byte
// order regardless of the order they are stored in.
func Encode(v Value) []byte {
	return appendValue(nil, v)
}

func appendValue(buf []byte, v Value) []byte {
	switch v.Kind {
	case KindInt:
		buf = append(buf, 'i')
		buf = strconv.AppendInt(buf, v.Int, 10)
		return append(buf, 'e')
	case KindString:
		return appendString(buf, v.Str)
	case KindList:
		buf = append(buf, 'l')
		for _, item := range v.List {
			buf = appendValue(buf, item)
		}
		return append(buf, 'e')
	case KindDict:
		buf = append(buf, 'd')
		for _, e := range sortedEntries(v.Dict) {
			buf = appendString(buf, e.Key)
			buf = appendValue(buf, e.Value)
		}
		return append(buf, 'e')
	}
	// the zero Value encodes as an empty string
	return appendString(buf, nil)
}

func appendString(buf, s []byte) []byte {
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, ':')
	return append(buf, s...)
}

func sortedEntries(entries []Entry) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})
	return sorted
}

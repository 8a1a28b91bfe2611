package file

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	zbencode "github.com/zeebo/bencode"

	"leech/bencode"
)

func encode(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := zbencode.EncodeBytes(v)
	require.NoError(t, err)
	return data
}

func pieces(n int) string {
	return strings.Repeat("0123456789abcdefghij", n)
}

func singleInfo() map[string]interface{} {
	return map[string]interface{}{
		"name":         "debian.iso",
		"piece length": 262144,
		"pieces":       pieces(3),
		"length":       620000,
	}
}

func TestParseSingleFile(t *testing.T) {
	info := singleInfo()
	data := encode(t, map[string]interface{}{
		"announce":      "http://tracker.example/announce",
		"announce-list": [][]string{{"http://tracker.example/announce", "udp://backup.example:6969"}, {"http://third.example/announce"}},
		"comment":       "ignored",
		"info":          info,
	})

	tf, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "http://tracker.example/announce", tf.Announce)
	assert.Equal(t, sha1.Sum(encode(t, info)), tf.InfoHash)
	assert.Equal(t, "debian.iso", tf.Info.Name)
	assert.Equal(t, 262144, tf.Info.PieceLength)
	assert.Equal(t, SingleFile{Length: 620000}, tf.Info.Layout)
	assert.Len(t, tf.Info.PieceHashes, 3)
	assert.Equal(t, "0123456789abcdefghij", string(tf.Info.PieceHashes[2][:]))

	assert.Equal(t, 620000, tf.TotalLength())
	assert.Equal(t, 3, tf.NumPieces())
	begin, end := tf.PieceBounds(2)
	assert.Equal(t, 524288, begin)
	assert.Equal(t, 620000, end)

	want := []string{"http://tracker.example/announce", "udp://backup.example:6969", "http://third.example/announce"}
	if diff := cmp.Diff(want, tf.Trackers()); diff != "" {
		t.Errorf("trackers mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMultiFile(t *testing.T) {
	data := encode(t, map[string]interface{}{
		"announce": "http://tracker.example/announce",
		"info": map[string]interface{}{
			"name":         "album",
			"piece length": 16,
			"pieces":       pieces(3),
			"private":      1,
			"files": []interface{}{
				map[string]interface{}{"length": 20, "path": []string{"cd1", "01.flac"}},
				map[string]interface{}{"length": 0, "path": []string{"empty"}},
				map[string]interface{}{"length": 15, "path": []string{"cover.jpg"}},
			},
		},
	})

	tf, err := Parse(data)
	require.NoError(t, err)

	want := MultiFile{Files: []FileEntry{
		{Length: 20, Path: []string{"cd1", "01.flac"}},
		{Length: 0, Path: []string{"empty"}},
		{Length: 15, Path: []string{"cover.jpg"}},
	}}
	if diff := cmp.Diff(want, tf.Info.Layout); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, tf.Info.Private)
	assert.Equal(t, 35, tf.TotalLength())
	assert.Equal(t, 3, tf.NumPieces())
}

func TestInfoHashOnlyCoversInfo(t *testing.T) {
	parse := func(announce string, info map[string]interface{}) [20]byte {
		tf, err := Parse(encode(t, map[string]interface{}{"announce": announce, "info": info}))
		require.NoError(t, err)
		return tf.InfoHash
	}

	base := parse("http://a.example/announce", singleInfo())
	assert.Equal(t, base, parse("http://a.example/announce", singleInfo()), "stable")
	assert.Equal(t, base, parse("http://b.example/announce", singleInfo()), "announce is outside info")

	renamed := singleInfo()
	renamed["name"] = "debian2.iso"
	assert.NotEqual(t, base, parse("http://a.example/announce", renamed))

	extra := singleInfo()
	extra["source"] = "x"
	assert.NotEqual(t, base, parse("http://a.example/announce", extra))
}

func TestParseRejectsNonCanonicalInfo(t *testing.T) {
	// "name" before "length"
	data := "d8:announce3:url4:infod4:name1:x6:lengthi1e12:piece lengthi1e6:pieces20:0123456789abcdefghijee"
	_, err := Parse([]byte(data))
	var metaErr *MetadataError
	require.ErrorAs(t, err, &metaErr)
	assert.Equal(t, "info", metaErr.Field)
}

func TestParseRejectsRepeatedInfoKey(t *testing.T) {
	for name, info := range map[string]string{
		"top level": "d6:lengthi1e6:lengthi1e4:name1:x12:piece lengthi1e6:pieces20:0123456789abcdefghije",
		"nested": "d5:filesld6:lengthi1e4:pathl1:ae4:pathl1:beee4:name1:x12:piece lengthi1e6:pieces20:0123456789abcdefghije",
	} {
		t.Run(name, func(t *testing.T) {
			data := "d8:announce3:url4:info" + info + "e"
			_, err := Parse([]byte(data))
			var metaErr *MetadataError
			require.ErrorAs(t, err, &metaErr)
			assert.Contains(t, metaErr.Reason, "repeated")
		})
	}
}

func TestParseErrors(t *testing.T) {
	with := func(change func(info map[string]interface{})) map[string]interface{} {
		info := singleInfo()
		change(info)
		return map[string]interface{}{"announce": "http://tracker.example", "info": info}
	}

	tests := map[string]interface{}{
		"top level list":   []interface{}{"announce"},
		"missing announce": map[string]interface{}{"info": singleInfo()},
		"announce not a string": map[string]interface{}{
			"announce": 1, "info": singleInfo(),
		},
		"missing info":       map[string]interface{}{"announce": "http://tracker.example"},
		"info not a dict":    map[string]interface{}{"announce": "http://tracker.example", "info": "x"},
		"pieces not 20s":     with(func(i map[string]interface{}) { i["pieces"] = pieces(3)[:50] }),
		"too few hashes":     with(func(i map[string]interface{}) { i["pieces"] = pieces(2) }),
		"too many hashes":    with(func(i map[string]interface{}) { i["pieces"] = pieces(4) }),
		"zero piece length":  with(func(i map[string]interface{}) { i["piece length"] = 0 }),
		"no piece length":    with(func(i map[string]interface{}) { delete(i, "piece length") }),
		"no name":            with(func(i map[string]interface{}) { delete(i, "name") }),
		"no pieces":          with(func(i map[string]interface{}) { delete(i, "pieces") }),
		"neither layout":     with(func(i map[string]interface{}) { delete(i, "length") }),
		"zero length":        with(func(i map[string]interface{}) { i["length"] = 0; i["pieces"] = "" }),
		"length not integer": with(func(i map[string]interface{}) { i["length"] = "620000" }),
		"both layouts": with(func(i map[string]interface{}) {
			i["files"] = []interface{}{map[string]interface{}{"length": 620000, "path": []string{"a"}}}
		}),
		"empty files": with(func(i map[string]interface{}) {
			delete(i, "length")
			i["files"] = []interface{}{}
		}),
		"file without path": with(func(i map[string]interface{}) {
			delete(i, "length")
			i["files"] = []interface{}{map[string]interface{}{"length": 620000, "path": []string{}}}
		}),
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(encode(t, doc))
			var metaErr *MetadataError
			assert.ErrorAs(t, err, &metaErr)
		})
	}
}

func TestParseSyntaxError(t *testing.T) {
	for _, data := range []string{"d8:announce", "i03e", "d8:announcei-0ee", ""} {
		_, err := Parse([]byte(data))
		var syntaxErr *bencode.SyntaxError
		assert.ErrorAs(t, err, &syntaxErr, "input %q", data)
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.torrent")
	data := encode(t, map[string]interface{}{"announce": "http://tracker.example", "info": singleInfo()})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	tf, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "debian.iso", tf.Info.Name)

	_, err = Open(filepath.Join(t.TempDir(), "missing.torrent"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

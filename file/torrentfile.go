// Package file reads .torrent metainfo and writes downloaded content to disk.
package file

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"

	"leech/bencode"
)

// MetadataError is a structurally valid bencode document that is not a
// usable torrent.
type MetadataError struct {
	Field  string
	Reason string
}

func (e *MetadataError) Error() string {
	if e.Field == "" {
		return "invalid torrent: " + e.Reason
	}
	return fmt.Sprintf("invalid torrent: %s: %s", e.Field, e.Reason)
}

type TorrentFile struct {
	Announce     string
	AnnounceList []string
	InfoHash     [20]byte
	Info         Info
}

type Info struct {
	Name        string
	PieceLength int
	PieceHashes [][20]byte
	Private     bool
	Layout      Layout
}

// Layout is either SingleFile or MultiFile.
type Layout interface {
	TotalLength() int
	layout()
}

type SingleFile struct {
	Length int
}

type MultiFile struct {
	Files []FileEntry
}

// FileEntry is one file of a multi-file torrent. Path is relative to the
// torrent's directory, one element per path component.
type FileEntry struct {
	Length int
	Path   []string
}

func (SingleFile) layout() {}
func (MultiFile) layout()  {}

func (s SingleFile) TotalLength() int {
	return s.Length
}

func (m MultiFile) TotalLength() (length int) {
	for _, f := range m.Files {
		length += f.Length
	}
	return
}

type bencodeInfo struct {
	PieceLength int               `bencode:"piece length"`
	Pieces      string            `bencode:"pieces"`
	Length      int               `bencode:"length,omitempty"`
	Name        string            `bencode:"name"`
	Private     int               `bencode:"private,omitempty"`
	Files       []bencodeFileInfo `bencode:"files,omitempty"`
}

type bencodeTorrent struct {
	Announce     string      `bencode:"announce"`
	AnnounceList [][]string  `bencode:"announce-list"`
	Info         bencodeInfo `bencode:"info"`
}

type bencodeFileInfo struct {
	Length int      `bencode:"length"`
	Path   []string `bencode:"path"`
}

func Open(path string) (*TorrentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a .torrent document. The info-hash is taken over the info
// dictionary exactly as it appears in data, which must be canonical.
func Parse(data []byte) (*TorrentFile, error) {
	root, err := bencode.DecodeAll(data)
	if err != nil {
		return nil, err
	}
	if root.Kind != bencode.KindDict {
		return nil, &MetadataError{Reason: "top level is not a dictionary"}
	}

	announce, ok := root.Get("announce")
	if !ok {
		return nil, &MetadataError{Field: "announce", Reason: "missing"}
	}
	if announce.Kind != bencode.KindString {
		return nil, &MetadataError{Field: "announce", Reason: "not a string"}
	}

	info, ok := root.Get("info")
	if !ok {
		return nil, &MetadataError{Field: "info", Reason: "missing"}
	}
	if info.Kind != bencode.KindDict {
		return nil, &MetadataError{Field: "info", Reason: "not a dictionary"}
	}
	if err := checkKeyOrder(info); err != nil {
		return nil, err
	}
	if !bytes.Equal(bencode.Encode(info), info.Raw) {
		return nil, &MetadataError{Field: "info", Reason: "not canonically encoded"}
	}

	if err := checkLayoutKeys(info); err != nil {
		return nil, err
	}

	bto := bencodeTorrent{}
	if err := bencode.Unmarshal(data, &bto); err != nil {
		return nil, &MetadataError{Reason: err.Error()}
	}

	tf, err := bto.toTorrentFile()
	if err != nil {
		return nil, err
	}
	tf.InfoHash = sha1.Sum(info.Raw)
	return tf, nil
}

// checkKeyOrder requires every dictionary under v to have strictly
// increasing keys. A repeated key would read differently depending on
// which copy a decoder keeps.
func checkKeyOrder(v bencode.Value) error {
	switch v.Kind {
	case bencode.KindList:
		for _, item := range v.List {
			if err := checkKeyOrder(item); err != nil {
				return err
			}
		}
	case bencode.KindDict:
		for i, e := range v.Dict {
			if i > 0 && bytes.Compare(v.Dict[i-1].Key, e.Key) >= 0 {
				return &MetadataError{Field: "info", Reason: fmt.Sprintf("key %q is out of order or repeated", e.Key)}
			}
			if err := checkKeyOrder(e.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// exactly one of length and files
func checkLayoutKeys(info bencode.Value) error {
	length, hasLength := info.Get("length")
	files, hasFiles := info.Get("files")
	switch {
	case hasLength && hasFiles:
		return &MetadataError{Field: "info", Reason: "both length and files present"}
	case !hasLength && !hasFiles:
		return &MetadataError{Field: "info", Reason: "neither length nor files present"}
	case hasLength && length.Kind != bencode.KindInt:
		return &MetadataError{Field: "length", Reason: "not an integer"}
	case hasFiles && files.Kind != bencode.KindList:
		return &MetadataError{Field: "files", Reason: "not a list"}
	}
	for _, key := range []string{"name", "pieces"} {
		v, ok := info.Get(key)
		if !ok {
			return &MetadataError{Field: key, Reason: "missing"}
		}
		if v.Kind != bencode.KindString {
			return &MetadataError{Field: key, Reason: "not a string"}
		}
	}
	if v, ok := info.Get("piece length"); !ok || v.Kind != bencode.KindInt {
		return &MetadataError{Field: "piece length", Reason: "missing or not an integer"}
	}
	return nil
}

func (binfo *bencodeInfo) generatePieceHashes() ([][20]byte, error) {
	hashLength := 20
	buf := []byte(binfo.Pieces)

	if len(buf)%hashLength != 0 {
		return nil, &MetadataError{Field: "pieces", Reason: fmt.Sprintf("length %d is not a multiple of 20", len(buf))}
	}

	numHashes := len(buf) / hashLength
	hashes := make([][20]byte, numHashes)

	for i := 0; i < numHashes; i++ {
		copy(hashes[i][:], buf[i*hashLength:(i+1)*hashLength])
	}
	return hashes, nil
}

func (binfo *bencodeInfo) layout() (Layout, error) {
	if binfo.Files == nil {
		if binfo.Length <= 0 {
			return nil, &MetadataError{Field: "length", Reason: "must be positive"}
		}
		return SingleFile{Length: binfo.Length}, nil
	}

	if len(binfo.Files) == 0 {
		return nil, &MetadataError{Field: "files", Reason: "empty"}
	}
	files := make([]FileEntry, len(binfo.Files))
	for i, f := range binfo.Files {
		if f.Length < 0 {
			return nil, &MetadataError{Field: "files", Reason: fmt.Sprintf("file %d has negative length", i)}
		}
		if len(f.Path) == 0 {
			return nil, &MetadataError{Field: "files", Reason: fmt.Sprintf("file %d has no path", i)}
		}
		files[i] = FileEntry{Length: f.Length, Path: f.Path}
	}
	layout := MultiFile{Files: files}
	if layout.TotalLength() <= 0 {
		return nil, &MetadataError{Field: "files", Reason: "total length must be positive"}
	}
	return layout, nil
}

// every url of every tier, in order
func flattenAnnounceList(announceList [][]string) []string {
	var flat []string
	for _, tier := range announceList {
		for _, u := range tier {
			if u != "" {
				flat = append(flat, u)
			}
		}
	}
	return flat
}

func (bto *bencodeTorrent) toTorrentFile() (*TorrentFile, error) {
	if bto.Info.PieceLength <= 0 {
		return nil, &MetadataError{Field: "piece length", Reason: "must be positive"}
	}

	pieceHashes, err := bto.Info.generatePieceHashes()
	if err != nil {
		return nil, err
	}

	layout, err := bto.Info.layout()
	if err != nil {
		return nil, err
	}

	tf := TorrentFile{
		Announce:     bto.Announce,
		AnnounceList: flattenAnnounceList(bto.AnnounceList),
		Info: Info{
			Name:        bto.Info.Name,
			PieceLength: bto.Info.PieceLength,
			PieceHashes: pieceHashes,
			Private:     bto.Info.Private == 1,
			Layout:      layout,
		},
	}

	if want := tf.NumPieces(); len(pieceHashes) != want {
		return nil, &MetadataError{
			Field:  "pieces",
			Reason: fmt.Sprintf("%d hashes for %d bytes in pieces of %d, want %d", len(pieceHashes), tf.TotalLength(), tf.Info.PieceLength, want),
		}
	}
	return &tf, nil
}

func (tf *TorrentFile) TotalLength() int {
	return tf.Info.Layout.TotalLength()
}

// NumPieces is ceil(total length / piece length).
func (tf *TorrentFile) NumPieces() int {
	return (tf.TotalLength() + tf.Info.PieceLength - 1) / tf.Info.PieceLength
}

// PieceBounds returns the byte range [begin, end) of a piece in the
// concatenated content.
func (tf *TorrentFile) PieceBounds(index int) (int, int) {
	begin := index * tf.Info.PieceLength
	end := begin + tf.Info.PieceLength
	if end > tf.TotalLength() {
		end = tf.TotalLength()
	}
	return begin, end
}

// Trackers lists announce followed by the announce-list, without repeats.
func (tf *TorrentFile) Trackers() []string {
	seen := make(map[string]bool)
	var urls []string
	for _, u := range append([]string{tf.Announce}, tf.AnnounceList...) {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

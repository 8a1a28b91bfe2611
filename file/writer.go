package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edsrzf/mmap-go"
)

type region struct {
	path   string
	offset int
	length int
	file   *os.File
	data   mmap.MMap
}

// Writer places pieces into the torrent's files. Offsets are positions in
// the concatenated content; a write spanning a file boundary is split.
type Writer struct {
	regions []*region
	length  int
}

// NewWriter creates (or truncates to size) every file of the torrent and
// maps it into memory. A single-file torrent is written to path; a
// multi-file torrent goes under the directory path.
func NewWriter(path string, info Info) (*Writer, error) {
	var entries []FileEntry
	switch l := info.Layout.(type) {
	case SingleFile:
		entries = []FileEntry{{Length: l.Length}}
	case MultiFile:
		entries = l.Files
	default:
		return nil, fmt.Errorf("unknown layout %T", info.Layout)
	}

	w := &Writer{}
	for _, e := range entries {
		name := path
		if e.Path != nil {
			rel, err := safeJoin(e.Path)
			if err != nil {
				w.Close()
				return nil, err
			}
			name = filepath.Join(path, rel)
		}

		r, err := openRegion(name, w.length, e.Length)
		if err != nil {
			w.Close()
			return nil, err
		}
		w.regions = append(w.regions, r)
		w.length += e.Length
	}
	return w, nil
}

func safeJoin(parts []string) (string, error) {
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", &MetadataError{Field: "files", Reason: fmt.Sprintf("unsafe path %q", strings.Join(parts, "/"))}
		}
	}
	return filepath.Join(parts...), nil
}

func openRegion(name string, offset, length int) (*region, error) {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(length)); err != nil {
		f.Close()
		return nil, err
	}

	r := &region{path: name, offset: offset, length: length, file: f}
	// empty files cannot be mapped
	if length > 0 {
		r.data, err = mmap.Map(f, mmap.RDWR, 0)
		if err != nil {
			f.Close()
			return nil, err
		}
	}
	return r, nil
}

// WriteAt implements io.WriterAt.
func (w *Writer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off)+len(p) > w.length {
		return 0, fmt.Errorf("write of %d bytes at %d outside %d bytes of content", len(p), off, w.length)
	}

	start := int(off)
	n := 0
	for _, r := range w.regions {
		if n == len(p) {
			break
		}
		if start+n >= r.offset+r.length || r.length == 0 {
			continue
		}
		n += copy(r.data[start+n-r.offset:], p[n:])
	}
	return n, nil
}

// Paths lists the files being written, in torrent order.
func (w *Writer) Paths() []string {
	paths := make([]string, len(w.regions))
	for i, r := range w.regions {
		paths[i] = r.path
	}
	return paths
}

// Close flushes every mapping to disk and releases the files.
func (w *Writer) Close() error {
	var errs []error
	for _, r := range w.regions {
		if r.data != nil {
			errs = append(errs, r.data.Flush(), r.data.Unmap())
		}
		errs = append(errs, r.file.Close())
	}
	w.regions = nil
	return errors.Join(errs...)
}

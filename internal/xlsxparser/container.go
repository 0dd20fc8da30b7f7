// =============================================================================
// BOQ Rate Filler - Workbook Container
// =============================================================================
//
// A workbook is a ZIP archive of XML parts. Container indexes the archive,
// hands out part bytes on demand, and repacks the archive after the writer
// has changed some parts.
//
// REPACKING RULES:
//   - With no mutated parts the original input bytes are returned unchanged.
//   - Untouched parts are raw-copied, so their compressed bytes are identical.
//   - Mutated parts are re-deflated under their original names and order.
//
// =============================================================================

package xlsxparser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
)

// WorkbookPart is the one part every workbook must carry.
const WorkbookPart = "xl/workbook.xml"

// MaxPartSize bounds the decompressed size of any single part.
const MaxPartSize = 256 << 20

// =============================================================================
// CONTAINER STRUCTURE
// =============================================================================

// Container is an opened workbook archive. It is safe for concurrent reads.
type Container struct {
	raw   []byte
	zr    *zip.Reader
	files map[string]*zip.File

	mu    sync.Mutex
	cache map[string][]byte
}

// Open indexes the archive in data.
//
// RETURNS:
//   - ArchiveError when data is not a readable ZIP container.
//   - StructureError when the archive has no xl/workbook.xml.
func Open(data []byte) (*Container, error) {
	if len(data) == 0 {
		return nil, pkgerrors.NewArchiveError("empty input", nil)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, pkgerrors.NewArchiveError("not a ZIP container", err)
	}

	c := &Container{
		raw:   data,
		zr:    zr,
		files: make(map[string]*zip.File, len(zr.File)),
		cache: make(map[string][]byte),
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		key := partKey(f.Name)
		if _, dup := c.files[key]; !dup {
			c.files[key] = f
		}
	}

	if _, ok := c.files[partKey(WorkbookPart)]; !ok {
		return nil, pkgerrors.NewStructureError(WorkbookPart, "part missing")
	}
	return c, nil
}

// partKey canonicalizes a part name for lookup. Part names are
// case-insensitive and may be written with a leading slash.
func partKey(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "/")
	return strings.ToLower(path.Clean(name))
}

// Has reports whether the archive contains name.
func (c *Container) Has(name string) bool {
	_, ok := c.files[partKey(name)]
	return ok
}

// Name returns the part name exactly as stored in the archive.
func (c *Container) Name(name string) (string, bool) {
	f, ok := c.files[partKey(name)]
	if !ok {
		return "", false
	}
	return f.Name, true
}

// PartNames lists every part in the archive, sorted.
func (c *Container) PartNames() []string {
	names := make([]string, 0, len(c.files))
	for _, f := range c.files {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// Bytes returns the original archive bytes.
func (c *Container) Bytes() []byte {
	return c.raw
}

// Part returns the decompressed bytes of name. The bool is false when the
// part does not exist; the error is set when it exists but cannot be read.
func (c *Container) Part(name string) ([]byte, bool, error) {
	key := partKey(name)

	c.mu.Lock()
	if data, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return data, true, nil
	}
	c.mu.Unlock()

	f, ok := c.files[key]
	if !ok {
		return nil, false, nil
	}

	rc, err := f.Open()
	if err != nil {
		return nil, true, pkgerrors.NewArchiveError("cannot read part "+f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxPartSize+1))
	if err != nil {
		return nil, true, pkgerrors.NewArchiveError("cannot read part "+f.Name, err)
	}
	if len(data) > MaxPartSize {
		return nil, true, pkgerrors.NewStructureError(f.Name, "part exceeds size limit")
	}

	c.mu.Lock()
	c.cache[key] = data
	c.mu.Unlock()
	return data, true, nil
}

// =============================================================================
// REPACKING
// =============================================================================

// Repack builds a new archive in which every part named in mutated carries
// the given bytes. Names not present in the archive are appended as new
// parts. All failures are reported as WriteError.
func (c *Container) Repack(mutated map[string][]byte) ([]byte, error) {
	if len(mutated) == 0 {
		return c.raw, nil
	}

	pending := make(map[string][]byte, len(mutated))
	names := make(map[string]string, len(mutated))
	for name, data := range mutated {
		key := partKey(name)
		pending[key] = data
		names[key] = strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "/")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, f := range c.zr.File {
		key := partKey(f.Name)
		data, changed := pending[key]
		if !changed || f.FileInfo().IsDir() {
			if err := zw.Copy(f); err != nil {
				return nil, pkgerrors.NewWriteError(f.Name, fmt.Errorf("copy part: %w", err))
			}
			continue
		}
		if err := writeEntry(zw, f.Name, f.FileHeader, data); err != nil {
			return nil, err
		}
		delete(pending, key)
	}

	added := make([]string, 0, len(pending))
	for key := range pending {
		added = append(added, key)
	}
	sort.Strings(added)
	for _, key := range added {
		if err := writeEntry(zw, names[key], zip.FileHeader{}, pending[key]); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, pkgerrors.NewWriteError("", fmt.Errorf("finalize archive: %w", err))
	}
	return buf.Bytes(), nil
}

// writeEntry deflates data under name, keeping the original modification time.
func writeEntry(zw *zip.Writer, name string, orig zip.FileHeader, data []byte) error {
	fh := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: orig.Modified,
	}
	w, err := zw.CreateHeader(fh)
	if err != nil {
		return pkgerrors.NewWriteError(name, fmt.Errorf("create entry: %w", err))
	}
	if _, err := w.Write(data); err != nil {
		return pkgerrors.NewWriteError(name, fmt.Errorf("write entry: %w", err))
	}
	return nil
}

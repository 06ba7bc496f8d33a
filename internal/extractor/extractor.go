// Package extractor derives content metadata for indexed files.
//
// # Pipeline
//
//	Process(fi)
//	    │
//	    ├──► store hit (path, size, inode, mtime unchanged) → cached record
//	    │
//	    └──► open file
//	             ├──► read head (sniffLen bytes) → MIME type
//	             ├──► stream head + rest through xxh3 → content hash
//	             └──► image MIME → rewind → image.DecodeConfig → width, height
//
// Only one pass over the file content is made; image headers are re-read
// from the start, which DecodeConfig keeps to a few kilobytes.
//
// # Supported image formats
//
//	┌────────┬─────────────────────────┐
//	│ Format │ Decoder                 │
//	├────────┼─────────────────────────┤
//	│ PNG    │ image/png               │
//	│ JPEG   │ image/jpeg              │
//	│ GIF    │ image/gif               │
//	│ WebP   │ golang.org/x/image/webp │
//	│ BMP    │ golang.org/x/image/bmp  │
//	│ TIFF   │ golang.org/x/image/tiff │
//	└────────┴─────────────────────────┘
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/zeebo/xxh3"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/ivoronin/indexdog/internal/types"
)

const (
	sniffLen  = 512       // Bytes http.DetectContentType considers
	blockSize = 64 * 1024 // Read buffer for hashing
)

// MetadataStore is the persistence the extractor consults before reading.
type MetadataStore interface {
	Lookup(fi *types.FileInfo) (*types.Metadata, error)
	Put(fi *types.FileInfo, md *types.Metadata) error
}

// Extractor turns FileInfo into Records. Safe for concurrent use.
type Extractor struct {
	store MetadataStore // nil = always extract
}

// New creates an Extractor. store may be nil.
func New(store MetadataStore) *Extractor {
	return &Extractor{store: store}
}

// Process returns the record for fi, from the store when fi is unchanged.
// Image decode failures are not errors: the record just has no dimensions.
func (e *Extractor) Process(ctx context.Context, fi *types.FileInfo) (*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := &types.Record{Path: fi.Path, Size: fi.Size, ModTime: fi.ModTime}

	if e.store != nil {
		md, err := e.store.Lookup(fi)
		if err != nil {
			return nil, err
		}
		if md != nil {
			rec.Metadata = *md
			rec.Cached = true
			return rec, nil
		}
	}

	md, err := extract(ctx, fi.Path)
	if err != nil {
		return nil, err
	}
	rec.Metadata = *md

	if e.store != nil {
		if err := e.store.Put(fi, md); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// extract reads path once, computing MIME type, hash and image dimensions.
func extract(ctx context.Context, path string) (*types.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	head = head[:n]

	md := &types.Metadata{MIME: detectMIME(head)}

	hasher := xxh3.New()
	_, _ = hasher.Write(head)
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(hasher, &ctxReader{ctx: ctx, r: f}, buf); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	md.Hash = hasher.Sum64()

	if strings.HasPrefix(md.MIME, "image/") {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if cfg, _, err := image.DecodeConfig(f); err == nil {
			md.Width, md.Height = cfg.Width, cfg.Height
		}
	}

	return md, nil
}

var (
	tiffLE = []byte("II*\x00")
	tiffBE = []byte("MM\x00*")
)

// detectMIME sniffs the content type, stripping parameters such as charset.
// TIFF is not covered by the content sniffing algorithm and is checked here.
func detectMIME(head []byte) string {
	if bytes.HasPrefix(head, tiffLE) || bytes.HasPrefix(head, tiffBE) {
		return "image/tiff"
	}
	mime := http.DetectContentType(head)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

// ctxReader stops a long copy once ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package testfs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// -----------------------------------------------------------------------------
// Sow Operations - Create filesystem from a Tree
// -----------------------------------------------------------------------------

// Sow creates the tree under root.
func Sow(root string, tree Tree) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create root: %w", err)
	}
	for _, d := range tree.Dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", d, err)
		}
	}
	for _, f := range tree.Files {
		if err := sowFile(root, f); err != nil {
			return err
		}
	}
	return sowSymlinks(root, tree.Symlinks)
}

// SowFromReader reads a Tree as JSON and creates it under root.
func SowFromReader(r io.Reader, root string) error {
	var tree Tree
	if err := json.NewDecoder(r).Decode(&tree); err != nil {
		return fmt.Errorf("decode tree: %w", err)
	}
	return Sow(root, tree)
}

// sowFile creates a single file entry (with optional hardlinks).
func sowFile(root string, f File) error {
	if len(f.Path) == 0 {
		return nil
	}

	firstPath := filepath.Join(root, f.Path[0])
	if err := WriteFile(firstPath, f); err != nil {
		return fmt.Errorf("create %s: %w", firstPath, err)
	}

	for _, p := range f.Path[1:] {
		linkPath := filepath.Join(root, p)
		if err := createHardlink(firstPath, linkPath); err != nil {
			return fmt.Errorf("hardlink %s -> %s: %w", linkPath, firstPath, err)
		}
	}
	return nil
}

// WriteFile writes the content described by f to path, creating parents.
// Existing files are truncated.
func WriteFile(path string, f File) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if f.Image != nil {
		return encodeImage(out, *f.Image)
	}
	for _, c := range f.Chunks {
		if err := writeChunk(out, c); err != nil {
			return err
		}
	}
	return nil
}

// writeChunk writes a single chunk using a bounded buffer.
func writeChunk(w io.Writer, c Chunk) error {
	const maxBufSize = 1 << 20 // 1MiB max buffer

	size, err := humanize.ParseBytes(c.Size)
	if err != nil {
		return fmt.Errorf("parse chunk size %q: %w", c.Size, err)
	}

	bufSize := min(int(size), maxBufSize)
	buf := bytes.Repeat([]byte{byte(c.Pattern)}, bufSize)

	remaining := int64(size)
	for remaining > 0 {
		toWrite := min(int64(len(buf)), remaining)
		if _, err := w.Write(buf[:toWrite]); err != nil {
			return err
		}
		remaining -= toWrite
	}
	return nil
}

// encodeImage renders a gradient of the requested size in the requested format.
func encodeImage(w io.Writer, desc Image) error {
	if desc.Width <= 0 || desc.Height <= 0 {
		return fmt.Errorf("image size %dx%d", desc.Width, desc.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, desc.Width, desc.Height))
	for y := 0; y < desc.Height; y++ {
		for x := 0; x < desc.Width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 0xff})
		}
	}

	switch desc.Format {
	case "png":
		return png.Encode(w, img)
	case "jpeg", "jpg":
		return jpeg.Encode(w, img, nil)
	case "gif":
		return gif.Encode(w, img, nil)
	case "bmp":
		return bmp.Encode(w, img)
	case "tiff":
		return tiff.Encode(w, img, nil)
	default:
		return fmt.Errorf("unsupported image format %q", desc.Format)
	}
}

// sowSymlinks creates symlinks.
func sowSymlinks(root string, symlinks []Symlink) error {
	for _, sym := range symlinks {
		linkPath := filepath.Join(root, sym.Path)
		if err := createSymlink(sym.Target, linkPath); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", linkPath, sym.Target, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helper Functions
// -----------------------------------------------------------------------------

// createHardlink creates a hardlink, creating parent dirs.
func createHardlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	return os.Link(target, link)
}

// createSymlink creates a symlink, creating parent dirs.
func createSymlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	return os.Symlink(target, link)
}

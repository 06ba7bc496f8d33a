// Package testfs provides test fixtures for filesystem operations.
//
// Tests describe a tree declaratively and sow it into t.TempDir():
//
//	given := testfs.Tree{
//	    Files: []testfs.File{
//	        {Path: []string{"docs/a.txt", "docs/a-link.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1KiB"}}},
//	        {Path: []string{"photos/cat.png"}, Image: &testfs.Image{Format: "png", Width: 64, Height: 48}},
//	    },
//	    Dirs:     []string{"empty"},
//	    Symlinks: []testfs.Symlink{{Path: "latest", Target: "photos/cat.png"}},
//	}
//	h := testfs.New(t, given)
//	records := runIndexer(h.Root())
//	h.AssertIndexed(records, []testfs.Indexed{
//	    {Path: "photos/cat.png", MIME: "image/png", Width: 64, Height: 48},
//	})
//
// Subdirectories are created automatically from file paths (mkdir -p semantics).
// All paths are relative to the tree root.
//
// # Field Usage
//
//	| Field        | Effect                                   |
//	|--------------|------------------------------------------|
//	| File.Path    | Path[0] is written, Path[1:] hardlinked  |
//	| File.Chunks  | Content: each chunk filled with Pattern  |
//	| File.Image   | Content: encoded image (overrides Chunks)|
//	| Dirs         | Empty directories                        |
//	| Symlinks     | Symbolic links (skipped by the crawler)  |
package testfs

import "github.com/dustin/go-humanize"

// Tree describes a filesystem state to create.
type Tree struct {
	Files    []File    `json:"files,omitempty"`
	Dirs     []string  `json:"dirs,omitempty"`
	Symlinks []Symlink `json:"symlinks,omitempty"`
}

// File defines a regular file, possibly with hardlinks.
type File struct {
	// Path contains one or more paths relative to the root.
	// Multiple paths indicate hardlinks sharing the same inode.
	Path []string `json:"path"`

	// Chunks specifies file content as a sequence of filled regions.
	// Use IEC units for sizes: "1KiB", "1MiB".
	Chunks []Chunk `json:"chunks,omitempty"`

	// Image, if set, makes the file a valid encoded image.
	Image *Image `json:"image,omitempty"`
}

// Chunk defines a region of file content filled with a pattern byte.
type Chunk struct {
	Pattern rune   `json:"pattern"`
	Size    string `json:"size"` // Parsed via go-humanize
}

// Image describes a generated image. Pixels are a deterministic gradient.
type Image struct {
	Format string `json:"format"` // png, jpeg, gif, bmp, tiff
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// TotalSize calculates the sum of all chunk sizes in bytes.
// Image content size depends on the encoder and is not included.
func (f *File) TotalSize() int64 {
	var total int64
	for _, c := range f.Chunks {
		size, _ := humanize.ParseBytes(c.Size)
		total += int64(size)
	}
	return total
}

// Symlink defines a symbolic link.
type Symlink struct {
	Path   string `json:"path"`   // Relative to the root
	Target string `json:"target"` // Written as given
}

// Indexed is the expected index entry for one path.
// Zero MIME, Width and Height are not checked.
type Indexed struct {
	Path   string // Relative to the root
	MIME   string
	Width  int
	Height int
}

package crawler

import (
	"os"
	"syscall"

	"github.com/ivoronin/indexdog/internal/types"
)

// newFileInfo creates FileInfo from os.FileInfo and path.
func newFileInfo(path string, info os.FileInfo) *types.FileInfo {
	fi := &types.FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		fi.Dev = uint64(stat.Dev) //nolint:unconvert // platform-dependent type
		fi.Ino = stat.Ino
	}
	return fi
}

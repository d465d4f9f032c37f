// Package seginfo names and discovers segment files on disk.
//
// Filename format: <16-hex-digit-id>.seg
//
// Segment ids are zero-padded 64-bit values rendered as lowercase hex, so
// lexicographic filename order is identical to numeric id order (spec
// §6.2) — no timestamp component is needed for ordering, unlike the
// prefix_NNNNN_timestamp scheme this package used to generate.
//
// Example filenames:
//
//	0000000000000001.seg
//	000000000000002a.seg
package seginfo

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/fjall-rs/value-log/pkg/filesys"
)

const (
	extension  = ".seg"
	idHexWidth = 16
)

// Name renders id as a segment filename.
func Name(id uint64) string {
	return fmt.Sprintf("%0*x%s", idHexWidth, id, extension)
}

// Path renders id as a segment filename under segmentsDir.
func Path(segmentsDir string, id uint64) string {
	return filepath.Join(segmentsDir, Name(id))
}

// ParseID extracts the segment id from a segment filename or path.
func ParseID(nameOrPath string) (uint64, error) {
	name := filepath.Base(nameOrPath)
	if !strings.HasSuffix(name, extension) {
		return 0, fmt.Errorf("seginfo: %q is not a segment filename", name)
	}

	hexPart := strings.TrimSuffix(name, extension)
	id, err := strconv.ParseUint(hexPart, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("seginfo: invalid segment id in %q: %w", name, err)
	}
	return id, nil
}

// List returns the ids of every segment file found directly under
// segmentsDir, sorted ascending. Since filenames sort lexicographically in
// id order, this is a glob plus a parse, not a numeric sort.
func List(fs afero.Fs, segmentsDir string) ([]uint64, error) {
	paths, err := filesys.ReadDir(fs, segmentsDir, "*"+extension)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(paths))
	for _, p := range paths {
		id, err := ParseID(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// NextID returns the smallest id greater than every id in existing,
// starting from 1 when existing is empty.
func NextID(existing []uint64) uint64 {
	var max uint64
	for _, id := range existing {
		if id > max {
			max = id
		}
	}
	return max + 1
}

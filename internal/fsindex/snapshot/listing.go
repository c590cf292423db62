package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
)

// ReadListing builds a volume from a newline separated list of paths, as
// produced by the indexer's filesystem walk. A trailing separator marks a
// directory. Blank lines are ignored; order is preserved.
func ReadListing(r io.Reader) (*fsindex.VolumeIndex, error) {
	b := fsindex.NewVolumeBuilder()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		path := strings.TrimRight(raw, `/\`)
		if path == "" {
			continue
		}
		name := path[strings.LastIndexAny(path, `/\`)+1:]
		if len(path) < len(raw) {
			b.Add(name, fsindex.Directory(path))
		} else {
			b.Add(name, fsindex.File(path))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading listing line %d: %w", line+1, err)
	}
	return b.Build(), nil
}

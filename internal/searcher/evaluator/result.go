package evaluator

import (
	"encoding/json"
	"fmt"

	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
)

// Result is one ranked search hit. It is either a file or a directory; the
// Kind field is the tag and every consumer switches on it. Scores are not
// exposed, order carries the ranking.
type Result struct {
	Kind fsindex.EntryKind
	Name string
	Path string
}

func FileResult(name, path string) Result {
	return Result{Kind: fsindex.KindFile, Name: name, Path: path}
}

func DirectoryResult(name, path string) Result {
	return Result{Kind: fsindex.KindDirectory, Name: name, Path: path}
}

func (r Result) IsFile() bool      { return r.Kind == fsindex.KindFile }
func (r Result) IsDirectory() bool { return r.Kind == fsindex.KindDirectory }

const (
	fileTag      = "File"
	directoryTag = "Directory"
)

// MarshalJSON encodes the result as a single-key object naming the variant,
// e.g. {"File":["report.pdf","C:/x/report.pdf"]}.
func (r Result) MarshalJSON() ([]byte, error) {
	var tag string
	switch r.Kind {
	case fsindex.KindFile:
		tag = fileTag
	case fsindex.KindDirectory:
		tag = directoryTag
	default:
		return nil, fmt.Errorf("unknown result kind %d", r.Kind)
	}
	return json.Marshal(map[string][2]string{tag: {r.Name, r.Path}})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var raw map[string][2]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("search result must have exactly one variant, got %d", len(raw))
	}
	for tag, v := range raw {
		switch tag {
		case fileTag:
			*r = FileResult(v[0], v[1])
		case directoryTag:
			*r = DirectoryResult(v[0], v[1])
		default:
			return fmt.Errorf("unknown search result variant %q", tag)
		}
	}
	return nil
}

// Counts returns how many files and directories are in results.
func Counts(results []Result) (files, directories int) {
	for _, r := range results {
		switch r.Kind {
		case fsindex.KindFile:
			files++
		case fsindex.KindDirectory:
			directories++
		}
	}
	return files, directories
}

// Package evaluator answers fuzzy filename queries against the shared
// filesystem index.
package evaluator

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/matcher"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/merger"
	"github.com/LuizLemos21/FileExplorer/pkg/config"
)

// ctx is checked once per chunk of filenames.
const cancelCheckInterval = 4096

// Query describes one search.
type Query struct {
	Text              string
	VolumeID          string
	Extension         string
	AcceptFiles       bool
	AcceptDirectories bool
	// Scope restricts results to paths under this directory when set.
	Scope string
	// Limit caps the number of results; 0 means no cap.
	Limit int
}

// Evaluator scans a volume and returns ranked results. It only reads the
// index and is safe for concurrent use.
type Evaluator struct {
	state              *fsindex.State
	scorer             matcher.Scorer
	workers            int
	partitionThreshold int
	logger             *slog.Logger
}

// New creates an Evaluator over state. A nil scorer selects matcher.Fuzzy.
func New(state *fsindex.State, scorer matcher.Scorer, cfg config.SearchConfig) *Evaluator {
	if scorer == nil {
		scorer = matcher.Fuzzy
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Evaluator{
		state:              state,
		scorer:             scorer,
		workers:            workers,
		partitionThreshold: cfg.PartitionThreshold,
		logger:             slog.Default().With("component", "evaluator"),
	}
}

// Evaluate runs q against the current index snapshot.
func (e *Evaluator) Evaluate(ctx context.Context, q Query) ([]Result, error) {
	return e.EvaluateSnapshot(ctx, e.state.Load(), q)
}

// EvaluateSnapshot runs q against a specific snapshot. Callers that key
// caches by the snapshot's volume fingerprint use this so the key and the
// scan agree.
//
// An unknown volume, no matches, or both acceptance flags being false all
// yield an empty slice. The only error is ctx cancellation.
func (e *Evaluator) EvaluateSnapshot(ctx context.Context, snap *fsindex.Snapshot, q Query) ([]Result, error) {
	if !q.AcceptFiles && !q.AcceptDirectories {
		return []Result{}, nil
	}
	vol, ok := snap.Index.Volume(q.VolumeID)
	if !ok || vol.Len() == 0 {
		return []Result{}, nil
	}

	s := scan{
		vol:    vol,
		scorer: e.scorer,
		query:  strings.ToLower(q.Text),
		q:      q,
	}
	n := vol.Len()

	parts := 1
	if e.workers > 1 && e.partitionThreshold > 0 && n >= e.partitionThreshold {
		parts = e.workers
	}
	if parts == 1 {
		hits, err := s.run(ctx, 0, n)
		if err != nil {
			return nil, err
		}
		merger.SortStable(hits)
		return merger.Merge([][]merger.Ranked[Result]{hits}, q.Limit), nil
	}

	partitions := make([][]merger.Ranked[Result], parts)
	size := (n + parts - 1) / parts
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for p := 0; p < parts; p++ {
		lo := p * size
		hi := min(lo+size, n)
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			hits, err := s.run(gctx, lo, hi)
			if err != nil {
				return err
			}
			merger.SortStable(hits)
			partitions[p] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	results := merger.Merge(partitions, q.Limit)
	e.logger.Debug("partitioned scan complete",
		"volume", q.VolumeID,
		"filenames", n,
		"partitions", parts,
		"results", len(results),
	)
	return results, nil
}

type scan struct {
	vol    *fsindex.VolumeIndex
	scorer matcher.Scorer
	query  string
	q      Query
}

// run scans filenames [lo, hi) and returns surviving hits in scan order.
func (s *scan) run(ctx context.Context, lo, hi int) ([]merger.Ranked[Result], error) {
	var hits []merger.Ranked[Result]
	pos := 0
	for i := lo; i < hi; i++ {
		if (i-lo)%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		name, entries := s.vol.At(i)

		// Scores depend only on the name and kind, so compute each at most once.
		fileScore, dirScore := -1, -1
		for _, entry := range entries {
			var score int
			switch entry.Kind {
			case fsindex.KindFile:
				if !s.q.AcceptFiles {
					continue
				}
				if s.q.Extension != "" && !strings.HasSuffix(name, s.q.Extension) {
					continue
				}
				if !inScope(entry.Path, s.q.Scope) {
					continue
				}
				if fileScore == -1 {
					fileScore = s.score(matcher.Stem(name))
				}
				score = fileScore
			case fsindex.KindDirectory:
				if !s.q.AcceptDirectories {
					continue
				}
				if !inScope(entry.Path, s.q.Scope) {
					continue
				}
				if dirScore == -1 {
					dirScore = s.score(name)
				}
				score = dirScore
			default:
				continue
			}
			if score == 0 {
				continue
			}
			hits = append(hits, merger.Ranked[Result]{
				Score:    score,
				Position: pos,
				Item:     Result{Kind: entry.Kind, Name: name, Path: entry.Path},
			})
			pos++
		}
	}
	return hits, nil
}

// score returns 0 for rejected candidates.
func (s *scan) score(text string) int {
	score, ok := matcher.Evaluate(s.scorer, text, s.query)
	if !ok {
		return 0
	}
	return score
}

// inScope reports whether path lies at or below dir. Both separators are
// accepted so Windows and Unix style paths behave the same.
func inScope(path, dir string) bool {
	if dir == "" {
		return true
	}
	trimmed := strings.TrimRight(dir, `/\`)
	if trimmed == "" {
		return true
	}
	if !strings.HasPrefix(path, trimmed) {
		return false
	}
	rest := path[len(trimmed):]
	return rest == "" || rest[0] == '/' || rest[0] == '\\'
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/flyerscan/constants"
)

// ListImages walks root and returns every file with an accepted image
// extension, skipping hidden entries when asked.
func ListImages(root string, skipHidden bool) ([]string, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if constants.IsAllowedExt(filepath.Ext(path)) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("walk: %w", err)
	}
	return out, nil
}

// IngestDirectory submits every image under root and returns per-file
// results plus aggregate stats. A failing file does not stop the walk.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error) {
	var stats DirStats
	paths, err := ListImages(root, skipHidden)
	if err != nil {
		return nil, stats, err
	}
	stats.Scanned = uint32(len(paths))

	results := make([]IngestionResult, 0, len(paths))
	for _, p := range paths {
		if ctx.Err() != nil {
			return results, stats, ctx.Err()
		}
		stats.Matched++
		r, err := i.IngestPath(ctx, p)
		if err != nil {
			r.Err = err.Error()
			stats.Failed++
		} else {
			stats.Succeeded++
			if r.Deduplicated {
				stats.Deduplicated++
			}
		}
		results = append(results, r)
	}
	i.logger.Info("ingest.directory.done",
		"root", root,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed,
	)
	return results, stats, nil
}

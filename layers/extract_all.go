package layers

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ExtractAll extracts every layer in layers concurrently, each gated
// by its own per-digest lock. Extraction failure for
// one layer cleans up that layer's partial directory and propagates
// the first error; layers that already completed remain valid on
// disk — a flat fan-out replacing the host repository's DAG executor,
// since a pulled image has no build graph, just an ordered list.
func ExtractAll(ctx context.Context, layerList []*Layer) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, layer := range layerList {
		layer := layer
		parent := ParentContext{ParentDirs: parentDirs(layerList, layer)}
		g.Go(func() error {
			if err := layer.Extract(ctx, parent); err != nil {
				layer.CleanupExtracted()
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// parentDirs returns the extracted directories of every layer ordered
// before l, base-first, for overlay resolution during extraction.
func parentDirs(layerList []*Layer, l *Layer) []string {
	var dirs []string
	for _, candidate := range layerList {
		if candidate == l {
			break
		}
		dirs = append(dirs, candidate.ExtractedDir())
	}
	return dirs
}

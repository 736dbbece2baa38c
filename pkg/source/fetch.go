package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/reviewoor/pkg/selector"
)

const defaultFetchConcurrency = 8

// FetchStats summarizes a FetchEligibleFiles call.
type FetchStats struct {
	TreeEntries int
	Rejected    map[selector.Reason]int
	Binary      int
	Failed      int
}

// FetchEligibleFiles lists the tree at ref and downloads every blob the
// selector accepts. Rejected paths are never downloaded. A blob that fails
// to download is logged and skipped, except for rate limiting which aborts
// the fetch.
func FetchEligibleFiles(
	ctx context.Context,
	log logrus.FieldLogger,
	client Client,
	repo RepoRef,
	ref string,
	sel *selector.Selector,
) ([]selector.File, *FetchStats, error) {
	entries, err := client.GetFileTree(ctx, repo, ref)
	if err != nil {
		return nil, nil, err
	}

	stats := &FetchStats{
		TreeEntries: len(entries),
		Rejected:    make(map[selector.Reason]int, 4),
	}

	candidates := make([]TreeEntry, 0, len(entries))

	for _, e := range entries {
		if ok, reason := sel.Eligible(e.Path, e.Size); !ok {
			stats.Rejected[reason]++

			continue
		}

		candidates = append(candidates, e)
	}

	var (
		mu    sync.Mutex
		files = make([]selector.File, 0, len(candidates))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultFetchConcurrency)

	for _, e := range candidates {
		g.Go(func() error {
			data, err := client.GetBlobContent(gctx, repo, e.SHA)
			if err != nil {
				if errors.Is(err, ErrRateLimited) {
					return err
				}

				if gctx.Err() != nil {
					return gctx.Err()
				}

				log.WithError(err).WithField("path", e.Path).
					Warn("Skipping file that could not be downloaded")

				mu.Lock()
				stats.Failed++
				mu.Unlock()

				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			if selector.IsBinary(data) {
				stats.Binary++

				return nil
			}

			files = append(files, selector.File{Path: e.Path, Content: string(data)})

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, stats, fmt.Errorf("downloading files: %w", err)
	}

	return files, stats, nil
}

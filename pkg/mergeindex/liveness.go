// SPDX-License-Identifier: AGPL-3.0-only

package mergeindex

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/concurrency"
	"github.com/pkg/errors"
)

// sweepInterval is how often checkSourceNodesAlive runs while the index is
// open. It is not exposed as a config knob: section 6 scopes configuration
// to MERGE_TABLE_MAX_SIZE alone.
const sweepInterval = 15 * time.Second

// sourceChecker is the liveness sweep's view of the discovery collaborator.
// It is declared locally, not imported from pkg/discovery, so that package
// can depend on mergeindex for SourceID without a cycle back here;
// discovery.Checker satisfies this interface structurally.
type sourceChecker interface {
	IsAlive(ctx context.Context, source SourceID) (bool, error)
}

// startLivenessSweep launches the background goroutine that periodically
// runs checkSourceNodesAlive until Close cancels it.
func (idx *Index) startLivenessSweep(checker sourceChecker) {
	ctx, cancel := context.WithCancel(context.Background())
	idx.livenessCancel = cancel
	idx.livenessDone = make(chan struct{})

	go func() {
		defer close(idx.livenessDone)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := idx.checkSourceNodesAlive(ctx, checker); err != nil {
					level.Warn(idx.logger).Log("msg", "liveness sweep failed", "err", err)
				}
			}
		}
	}()
}

// checkSourceNodesAlive probes every registered source concurrently,
// grounded on bucketindex/updater.go's updateBlocks fan-out
// (concurrency.ForEachJob with a small fixed worker count). On the first
// dead source it fails that source and returns — no further probes are
// started once a dead source is recorded, and only probes already in flight
// are waited for.
func (idx *Index) checkSourceNodesAlive(ctx context.Context, checker sourceChecker) error {
	ids := make([]SourceID, 0, len(idx.sources))
	for id := range idx.sources {
		ids = append(ids, id)
	}

	const maxConcurrency = 4
	var (
		deadOnce  sync.Once
		dead      SourceID
		deadCause error
	)
	// errFoundDead makes ForEachJob stop handing out further probes.
	errFoundDead := errors.New("dead source found")

	err := concurrency.ForEachJob(ctx, len(ids), maxConcurrency, func(ctx context.Context, i int) error {
		id := ids[i]
		alive, err := checker.IsAlive(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "probing liveness of source %q", id)
		}
		if !alive {
			deadOnce.Do(func() {
				dead = id
				deadCause = errors.Errorf("source %q is no longer alive", id)
			})
			return errFoundDead
		}
		return nil
	})

	if dead != "" {
		if idx.metrics != nil {
			idx.metrics.livenessSweepFailures.Inc()
		}
		idx.FailSource(dead, deadCause)
		return nil
	}
	if err != nil {
		if idx.metrics != nil {
			idx.metrics.livenessSweepFailures.Inc()
		}
		return err
	}
	return nil
}

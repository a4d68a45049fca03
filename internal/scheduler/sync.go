package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/user/agentchat/internal/metrics"
	"github.com/user/agentchat/internal/threads"
	"github.com/user/agentchat/pkg/chatapi"
)

const defaultSyncConcurrency = 4

// SyncResult counts what a sync run did.
type SyncResult struct {
	Agents  int
	Threads int
	Fetched int
	Failed  int
}

// Syncer prefetches thread transcripts into the local cache so they are
// available when the remote service is not.
type Syncer struct {
	store       *threads.Store
	concurrency int
}

// NewSyncer creates a Syncer over store.
func NewSyncer(store *threads.Store) *Syncer {
	return &Syncer{store: store, concurrency: defaultSyncConcurrency}
}

// Run refreshes the thread list of each agent and fetches the transcripts of
// threads that have none cached. Drafts are local-only and skipped.
func (s *Syncer) Run(ctx context.Context, agentIDs []string) (SyncResult, error) {
	var res SyncResult
	var fetched, failed atomic.Int64

	for _, agentID := range agentIDs {
		if err := ctx.Err(); err != nil {
			metrics.SyncRuns.WithLabelValues("cancelled").Inc()
			return res, err
		}
		list, err := s.store.ListThreads(ctx, agentID)
		if err != nil {
			slog.Warn("sync list threads", "agent_id", agentID, "error", err)
			failed.Add(1)
			continue
		}
		res.Agents++
		res.Threads += len(list)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, th := range list {
			if th.IsDraft() || !s.needsFetch(gctx, agentID, th.LocalID) {
				continue
			}
			g.Go(func() error {
				if _, err := s.store.SelectThread(gctx, th); err != nil {
					slog.Warn("sync thread", "agent_id", agentID, "local_id", th.LocalID, "remote_id", th.RemoteID, "error", err)
					failed.Add(1)
					if chatapi.IsRateLimited(err) {
						// Stop the remaining fetches of this run.
						return err
					}
					return nil
				}
				fetched.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			res.Fetched = int(fetched.Load())
			res.Failed = int(failed.Load())
			metrics.SyncRuns.WithLabelValues("rate_limited").Inc()
			slog.Warn("sync stopped", "agent_id", agentID, "fetched", res.Fetched, "error", err)
			return res, fmt.Errorf("sync agent %s: %w", agentID, err)
		}
	}

	res.Fetched = int(fetched.Load())
	res.Failed = int(failed.Load())
	switch {
	case res.Failed == 0:
		metrics.SyncRuns.WithLabelValues("ok").Inc()
	case res.Fetched > 0 || res.Agents > 0:
		metrics.SyncRuns.WithLabelValues("partial").Inc()
	default:
		metrics.SyncRuns.WithLabelValues("failed").Inc()
	}
	slog.Info("sync finished", "agents", res.Agents, "threads", res.Threads, "fetched", res.Fetched, "failed", res.Failed)
	return res, nil
}

func (s *Syncer) needsFetch(ctx context.Context, agentID, localID string) bool {
	th, ok, err := s.store.Thread(ctx, agentID, localID)
	if err != nil || !ok {
		return true
	}
	return len(th.Messages) == 0
}

// Job returns a scheduler job that syncs the agents returned by agents.
func (s *Syncer) Job(agents func(ctx context.Context) ([]string, error)) Job {
	return func(ctx context.Context) error {
		ids, err := agents(ctx)
		if err != nil {
			metrics.SyncRuns.WithLabelValues("failed").Inc()
			return fmt.Errorf("resolve sync agents: %w", err)
		}
		_, err = s.Run(ctx, ids)
		return err
	}
}

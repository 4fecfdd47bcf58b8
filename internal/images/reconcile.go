package images

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reconcile removes records that stayed invalid past the grace period,
// together with any blob written for them.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.ReconcileGrace)
	stale, err := s.store.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, img := range stale {
		if err := s.blobs.Delete(ctx, img.UserID, img.ID); err != nil {
			s.log.Warn("reconcile: blob delete failed",
				zap.String("image_id", img.ID), zap.Error(err))
			continue
		}
		if err := s.store.Delete(ctx, img.ID); err != nil {
			s.log.Warn("reconcile: record delete failed",
				zap.String("image_id", img.ID), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("reconciled stale uploads", zap.Int("removed", removed))
	}
	return removed, nil
}

// RunReconciler calls Reconcile every interval until ctx is done.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("reconcile failed", zap.Error(err))
			}
		}
	}
}

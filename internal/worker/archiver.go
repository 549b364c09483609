package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"virtual-market/internal/service"
)

// ArchiveWorker periodically archives orders nobody accepted.
type ArchiveWorker struct {
	orderService service.OrderService
	log          logrus.FieldLogger
	olderThan    time.Duration
	interval     time.Duration
}

func NewArchiveWorker(
	orderService service.OrderService,
	log logrus.FieldLogger,
	olderThan time.Duration,
	interval time.Duration,
) *ArchiveWorker {
	return &ArchiveWorker{
		orderService: orderService,
		log:          log,
		olderThan:    olderThan,
		interval:     interval,
	}
}

func (w *ArchiveWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.WithField("older_than", w.olderThan.String()).Info("archive worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.process(ctx); err != nil {
				w.log.WithError(err).Error("archive sweep failed")
			}
		}
	}
}

func (w *ArchiveWorker) process(ctx context.Context) (int, error) {
	n, err := w.orderService.ArchiveStale(ctx, w.olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.log.WithField("archived", n).Info("archived stale orders")
	}
	return n, nil
}

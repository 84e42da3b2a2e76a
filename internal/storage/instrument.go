package storage

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/outputstore/internal/logging"
	"github.com/fruitsalade/outputstore/internal/metrics"
)

type instrumented struct {
	next Backend
}

// Instrument wraps b with structured logging and Prometheus metrics.
// Each call gets a store_id that is attached to every log line it produces.
func Instrument(b Backend) Backend {
	return &instrumented{next: b}
}

func (i *instrumented) Kind() Kind { return i.next.Kind() }

func (i *instrumented) Store(ctx context.Context, a Artifact) (Result, error) {
	kind := i.next.Kind().String()
	ctx = logging.WithFields(ctx,
		zap.String("store_id", uuid.NewString()),
		zap.String("kind", kind))
	log := logging.WithContext(ctx)

	source := sourceOf(a)
	log.Debug("store started", zap.String("source", source))
	start := time.Now()
	res, err := i.next.Store(ctx, a)
	elapsed := time.Since(start)

	if err != nil {
		ek := KindOf(err)
		metrics.RecordStore(kind, ek.String(), 0, elapsed)
		log.Error("store failed",
			zap.String("source", source),
			zap.String("error_kind", ek.String()),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return Result{}, err
	}

	var size int64
	if i.next.Kind() != KindNull && source != "" {
		if info, serr := os.Stat(source); serr == nil {
			size = info.Size()
		}
	}
	metrics.RecordStore(kind, "ok", size, elapsed)
	log.Info("store completed",
		zap.String("locator", res.Locator),
		zap.String("url", res.URL),
		zap.Int64("bytes", size),
		zap.Duration("duration", elapsed))
	return res, nil
}

func sourceOf(a Artifact) string {
	if a == nil {
		return ""
	}
	return a.File()
}

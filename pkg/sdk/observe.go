package pagedex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Operation outcomes used as the "status" label.
const (
	statusOK          = "ok"
	statusInvalid     = "invalid"
	statusNotFound    = "not_found"
	statusUnavailable = "unavailable"
	statusCanceled    = "canceled"
	statusError       = "error"
)

// observer logs engine operations and, when a registerer was given, counts
// them by outcome.
type observer struct {
	logger     *zap.Logger
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newObserver(logger *zap.Logger, reg prometheus.Registerer) (*observer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &observer{logger: logger}
	if reg == nil {
		return o, nil
	}

	o.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagedex",
		Subsystem: "engine",
		Name:      "operations_total",
		Help:      "Embedded engine operations by outcome.",
	}, []string{"operation", "status"})
	o.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pagedex",
		Subsystem: "engine",
		Name:      "operation_duration_seconds",
		Help:      "Embedded engine operation latency.",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120, 600},
	}, []string{"operation"})

	if err := register(reg, &o.operations); err != nil {
		return nil, err
	}
	if err := register(reg, &o.duration); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg. When an identical collector is already there,
// as with two engines sharing a registry, c is swapped for it.
func register[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	err := reg.Register(*c)
	var are prometheus.AlreadyRegisteredError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &are):
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return fmt.Errorf("pagedex: collector registered with type %T", are.ExistingCollector)
		}
		*c = existing
		return nil
	default:
		return fmt.Errorf("pagedex: register metrics: %w", err)
	}
}

// observe records one finished operation. It is safe on a nil observer.
func (o *observer) observe(op string, start time.Time, err error) {
	if o == nil {
		return
	}
	took := time.Since(start)
	status := outcome(err)

	if o.operations != nil {
		o.operations.WithLabelValues(op, status).Inc()
		o.duration.WithLabelValues(op).Observe(took.Seconds())
	}

	switch status {
	case statusOK:
		o.logger.Debug("Engine operation completed", zap.String("op", op), zap.Duration("duration", took))
	case statusInvalid, statusNotFound, statusCanceled:
		o.logger.Info("Engine operation rejected",
			zap.String("op", op), zap.String("status", status), zap.Error(err))
	default:
		o.logger.Warn("Engine operation failed",
			zap.String("op", op), zap.String("status", status), zap.Duration("duration", took), zap.Error(err))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return statusCanceled
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnsupportedFormat):
		return statusInvalid
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDocumentNotFound):
		return statusNotFound
	case errors.Is(err, ErrEmbeddingUnavailable), errors.Is(err, ErrVectorUnavailable),
		errors.Is(err, ErrKeywordUnavailable), errors.Is(err, ErrServiceUnavailable):
		return statusUnavailable
	default:
		return statusError
	}
}

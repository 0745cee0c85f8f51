// Package routing orders an exam template by current clinic load.
package routing

import (
	"context"
	"fmt"
	"sort"

	"github.com/Bomussa/Eme/internal/catalog"
	"github.com/Bomussa/Eme/internal/metrics"

	"github.com/rs/zerolog"
)

type WaitingCounter interface {
	CountWaiting(ctx context.Context, clinics []string) (map[string]int, error)
}

type Route struct {
	ExamType string
	Clinics  []string
}

type Router struct {
	catalog *catalog.Catalog
	counter WaitingCounter
	logger  zerolog.Logger
	metrics *metrics.Collector
}

func New(c *catalog.Catalog, counter WaitingCounter, logger zerolog.Logger, m *metrics.Collector) *Router {
	return &Router{
		catalog: c,
		counter: counter,
		logger:  logger.With().Str("component", "router").Logger(),
		metrics: m,
	}
}

// ComputeRoute selects the template for examType and gender and orders it by
// ascending waiting count, keeping template order between equal counts. The
// counts are a best-effort snapshot.
func (r *Router) ComputeRoute(ctx context.Context, examType string, gender catalog.Gender) (Route, error) {
	sel, err := r.catalog.Select(examType, gender)
	if err != nil {
		return Route{}, err
	}
	if sel.ExamFallback {
		r.logger.Warn().Str("exam_type", examType).Str("resolved", sel.ExamType).Msg("unknown exam type, using default template")
		r.fallback("exam_type")
	}
	if sel.GenderFallback {
		r.logger.Warn().Str("exam_type", sel.ExamType).Str("gender", string(gender)).Msg("no template for gender, using male template")
		r.fallback("gender")
	}

	waiting, err := r.counter.CountWaiting(ctx, sel.Clinics)
	if err != nil {
		return Route{}, fmt.Errorf("count waiting: %w", err)
	}
	return Route{ExamType: sel.ExamType, Clinics: Balance(sel.Clinics, waiting)}, nil
}

func (r *Router) fallback(kind string) {
	if r.metrics != nil {
		r.metrics.TemplateFallbacks.WithLabelValues(kind).Inc()
	}
}

// Balance returns a copy of template stably sorted by waiting count. Clinics
// absent from waiting count as empty.
func Balance(template []string, waiting map[string]int) []string {
	out := make([]string, len(template))
	copy(out, template)
	sort.SliceStable(out, func(i, j int) bool {
		return waiting[out[i]] < waiting[out[j]]
	})
	return out
}

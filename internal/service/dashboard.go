// Package service holds use cases that span several backend calls.
package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/sparring/internal/domain"
)

// DashboardSource is the part of the backend the dashboard reads.
type DashboardSource interface {
	DashboardStats(ctx context.Context, userID string) (*domain.DashboardStats, error)
	Insights(ctx context.Context, userID string) ([]domain.Insight, error)
	Badges(ctx context.Context, userID string) ([]domain.Badge, error)
	LearningErrors(ctx context.Context, userID string) ([]domain.LearningError, error)
}

type Dashboard struct {
	source DashboardSource
}

func NewDashboard(source DashboardSource) *Dashboard {
	return &Dashboard{source: source}
}

// Load fetches the four dashboard sections concurrently. Any failure fails the
// whole load and cancels the remaining requests.
func (d *Dashboard) Load(ctx context.Context, userID string) (*domain.Dashboard, error) {
	if userID == "" {
		return nil, domain.NewError(domain.KindValidation, "load dashboard", fmt.Errorf("user id is required"))
	}

	var (
		out      domain.Dashboard
		stats    *domain.DashboardStats
		insights []domain.Insight
		badges   []domain.Badge
		errs     []domain.LearningError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = d.source.DashboardStats(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		insights, err = d.source.Insights(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		badges, err = d.source.Badges(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		errs, err = d.source.LearningErrors(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if stats != nil {
		out.Stats = *stats
	}
	out.Insights = nonNil(insights)
	out.Badges = nonNil(badges)
	out.Errors = nonNil(errs)
	return &out, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// Package schedule starts agent runs for a fixed set of targets on a cron
// schedule. Each tick covers the default last-N-days window; a target whose
// previous run is still active is skipped for that tick.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/dispatcher"
	"github.com/JakeFAU/jobhunt-agent/internal/metrics"
)

// Starter launches runs; *dispatcher.Dispatcher satisfies it.
type Starter interface {
	Start(ctx context.Context, params agent.Params) (*agent.Run, error)
	Active(target string) bool
}

// Config lists what to run and when. Spec is a standard five-field cron
// expression or a descriptor such as "@hourly".
type Config struct {
	Spec        string
	Targets     []string
	TargetCount int
}

// Scheduler wraps a cron runner.
type Scheduler struct {
	cfg     Config
	cron    *cron.Cron
	sched   cron.Schedule
	starter Starter
	logger  *zap.Logger
}

// Parser accepts five-field expressions and descriptors.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates cfg and returns a stopped Scheduler.
func New(cfg Config, starter Starter, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Targets) == 0 {
		return nil, errors.New("schedule has no targets")
	}
	sched, err := Parser.Parse(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Spec, err)
	}
	targets := make([]string, 0, len(cfg.Targets))
	for _, raw := range cfg.Targets {
		normalized, err := crawler.NormalizeURL(raw)
		if err != nil {
			return nil, fmt.Errorf("schedule target %q: %w", raw, err)
		}
		targets = append(targets, normalized)
	}
	cfg.Targets = targets

	return &Scheduler{
		cfg:   cfg,
		sched: sched,
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		starter: starter,
		logger:  logger.Named("schedule"),
	}, nil
}

// Next returns the first tick after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// Start registers the tick and starts the cron runner. Runs started by a
// tick are stopped when ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Schedule(s.sched, cron.FuncJob(func() {
		s.Tick(ctx)
	}))
	s.cron.Start()
	s.logger.Info("schedule started",
		zap.String("spec", s.cfg.Spec),
		zap.Strings("targets", s.cfg.Targets),
		zap.Time("next_run", s.Next(time.Now())))
}

// Stop halts the cron runner. The returned context is done once a tick in
// progress has returned; runs it started keep going until their own end.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Tick starts one run per target that is not already active and returns
// the IDs of the started runs.
func (s *Scheduler) Tick(ctx context.Context) []string {
	started := make([]string, 0, len(s.cfg.Targets))
	for _, target := range s.cfg.Targets {
		if ctx.Err() != nil {
			break
		}
		if s.starter.Active(target) {
			s.skip(target, "previous run still active")
			continue
		}
		run, err := s.starter.Start(ctx, agent.Params{
			TargetURL:   target,
			TargetCount: s.cfg.TargetCount,
		})
		if errors.Is(err, dispatcher.ErrTargetActive) {
			s.skip(target, "previous run still active")
			continue
		}
		if err != nil {
			s.logger.Error("scheduled run failed to start", zap.String("target", target), zap.Error(err))
			continue
		}
		s.logger.Info("scheduled run started", zap.String("target", target), zap.String("run_id", run.ID()))
		started = append(started, run.ID())
	}
	return started
}

func (s *Scheduler) skip(target, reason string) {
	metrics.ObserveScheduledSkip(target)
	s.logger.Info("scheduled run skipped", zap.String("target", target), zap.String("reason", reason))
}

package flowlist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avnmr/ai-retail/pkg/logging"
)

// Syncer reloads a store on a cron schedule so changes made elsewhere show up
// even when no event stream is connected
type Syncer struct {
	store    *Store
	username string
	timeout  time.Duration
	cron     *cron.Cron
	logger   *slog.Logger
}

// ParseSchedule accepts six-field expressions with seconds, standard five-field
// expressions and descriptors such as "@every 30s"
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(spec)
	if err == nil {
		return schedule, nil
	}
	schedule, err = cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// NewSyncer creates a syncer that calls store.Load for username on schedule.
// A run still in progress when the next one is due makes that one skip.
func NewSyncer(store *Store, username, spec string, timeout time.Duration, logger *slog.Logger) (*Syncer, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger = logging.OrDiscard(logger)
	s := &Syncer{
		store:    store,
		username: username,
		timeout:  timeout,
		logger:   logger,
	}
	cronLog := cronLogger{logger}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	s.cron.Schedule(schedule, cron.FuncJob(s.run))
	return s, nil
}

func (s *Syncer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.store.Load(ctx, s.username); err != nil {
		s.logger.Warn("scheduled flow sync failed", "username", s.username, "error", err)
	}
}

// Start begins the schedule in the background
func (s *Syncer) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for a running sync to finish
func (s *Syncer) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger routes cron's logging to slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/japaniel/mangarank/pkg/logger"
)

// cronLogger adapts logger.Interface to cron.Logger.
type cronLogger struct {
	log logger.Interface
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

// runSchedule runs the pipeline on cfg.Schedule.Cron until ctx is done.
// A run still in progress when the next one is due causes that one to be skipped.
func (a *app) runSchedule(ctx context.Context, runNow bool) error {
	clog := cronLogger{log: a.log.With("component", "scheduler")}
	c := cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))

	job := cron.FuncJob(func() {
		if err := a.runAll(ctx); err != nil {
			a.log.Error("scheduled run failed", "error", err)
			return
		}
		a.log.Info("scheduled run finished")
	})
	if _, err := c.AddJob(a.cfg.Schedule.Cron, job); err != nil {
		return fmt.Errorf("parse schedule %q: %w", a.cfg.Schedule.Cron, err)
	}

	c.Start()
	a.log.Info("scheduler started", "cron", a.cfg.Schedule.Cron)
	if runNow {
		go c.Entries()[0].WrappedJob.Run()
	}

	<-ctx.Done()
	<-c.Stop().Done()
	a.log.Info("scheduler stopped")
	return ctx.Err()
}

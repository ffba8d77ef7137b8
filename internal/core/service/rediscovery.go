package service

import (
	"context"
	"fmt"

	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const REDISCOVERY_JOB = "rediscovery"

// ScheduleRediscovery runs RefreshDevices on a 6-field cron expression
// (seconds first). The scheduler stops when ctx is done.
func ScheduleRediscovery(ctx context.Context, controller *Controller, cronExpr string, logger *zap.Logger) (quartz.Scheduler, error) {
	trigger, err := quartz.NewCronTrigger(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("rediscovery cron %q: %w", cronExpr, err)
	}

	sched := quartz.NewStdScheduler()
	sched.Start(ctx)

	refresh := job.NewFunctionJob(func(ctx context.Context) (int, error) {
		devices, err := controller.RefreshDevices(ctx)
		if err != nil {
			logger.Warn("rediscovery failed", zap.Error(err))
			return 0, err
		}
		return len(devices), nil
	})
	err = sched.ScheduleJob(quartz.NewJobDetail(refresh, quartz.NewJobKey(REDISCOVERY_JOB)), trigger)
	if err != nil {
		sched.Stop()
		return nil, err
	}
	logger.Info("rediscovery scheduled", zap.String("cron", cronExpr))
	return sched, nil
}

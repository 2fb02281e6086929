package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// IdleReaper is the part of collab.Manager the reaper drives.
type IdleReaper interface {
	ReapIdle(now time.Time) int
}

// ReaperJob periodically disconnects idle sessions.
type ReaperJob struct {
	reaper   IdleReaper
	schedule string
	now      func() time.Time
	cron     *cron.Cron
}

func NewReaperJob(reaper IdleReaper, schedule string) *ReaperJob {
	return &ReaperJob{
		reaper:   reaper,
		schedule: schedule,
		now:      time.Now,
		cron:     cron.New(),
	}
}

// Start schedules the job. An empty schedule leaves it disabled.
func (j *ReaperJob) Start() error {
	if j.schedule == "" {
		logrus.Info("Idle reaper disabled")
		return nil
	}

	if _, err := j.cron.AddFunc(j.schedule, func() { j.RunOnce() }); err != nil {
		return fmt.Errorf("failed to schedule idle reaper: %w", err)
	}
	j.cron.Start()
	logrus.WithField("schedule", j.schedule).Info("Idle reaper started")
	return nil
}

// Stop halts scheduling and waits for a running pass to finish.
func (j *ReaperJob) Stop() {
	<-j.cron.Stop().Done()
}

func (j *ReaperJob) RunOnce() int {
	n := j.reaper.ReapIdle(j.now())
	if n > 0 {
		logrus.WithField("sessions", n).Info("Reaped idle sessions")
	}
	return n
}

// Package jobs holds scheduled background tasks (robfig/cron/v3).
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

const DefaultClosureSpec = "0 22 * * *"

type ClosureSource interface {
	Closure(ctx context.Context, day time.Time, soloFlex bool) ([]models.ClosureRow, error)
	Location() *time.Location
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

// ClosureJob publishes the daily per-driver closure as a ClosureReport.
// Two reports go out per run: all origins and Flex only.
type ClosureJob struct {
	src    ClosureSource
	pub    Publisher
	topic  string
	spec   string
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

func NewClosureJob(src ClosureSource, pub Publisher, topic, spec string, logger *slog.Logger) *ClosureJob {
	if spec == "" {
		spec = DefaultClosureSpec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClosureJob{
		src:    src,
		pub:    pub,
		topic:  topic,
		spec:   spec,
		cron:   cron.New(cron.WithLocation(src.Location())),
		logger: logger.With("component", "closure_job"),
		now:    time.Now,
	}
}

func (j *ClosureJob) SetClock(now func() time.Time) { j.now = now }

// Start schedules the job; the spec is evaluated in the operating timezone.
func (j *ClosureJob) Start() error {
	_, err := j.cron.AddFunc(j.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.ErrorContext(ctx, "closure job failed", "error", err.Error())
		}
	})
	if err != nil {
		return errors.Wrapf(err, "schedule closure %q", j.spec)
	}
	j.cron.Start()
	j.logger.Info("closure job started", "spec", j.spec, "timezone", j.src.Location().String())
	return nil
}

// Stop waits for a running report to finish.
func (j *ClosureJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("closure job stopped")
}

// RunOnce builds and publishes today's reports.
func (j *ClosureJob) RunOnce(ctx context.Context) ([]messages.ClosureReport, error) {
	now := j.now()
	day := now.In(j.src.Location())

	out := make([]messages.ClosureReport, 0, 2)
	for _, soloFlex := range []bool{false, true} {
		rows, err := j.src.Closure(ctx, day, soloFlex)
		if err != nil {
			return out, errors.Wrap(err, "closure")
		}
		rep := buildReport(day, soloFlex, now, rows)
		if j.pub != nil {
			key := rep.Day
			if soloFlex {
				key += ":flex"
			}
			if err := j.pub.PublishJSON(ctx, j.topic, key, rep); err != nil {
				return out, errors.Wrap(err, "publish closure report")
			}
		}
		j.logger.Info("closure report", "day", rep.Day, "solo_flex", soloFlex, "drivers", len(rep.Drivers), "total", rep.Total)
		out = append(out, rep)
	}
	return out, nil
}

func buildReport(day time.Time, soloFlex bool, at time.Time, rows []models.ClosureRow) messages.ClosureReport {
	rep := messages.ClosureReport{
		Day:         day.Format(time.DateOnly),
		Timezone:    day.Location().String(),
		SoloFlex:    soloFlex,
		GeneratedAt: at.UTC(),
		Drivers:     make([]messages.ClosureDriver, 0, len(rows)),
	}
	for _, r := range rows {
		rep.Drivers = append(rep.Drivers, messages.ClosureDriver{DriverID: r.DriverID, DriverName: r.DriverName, Count: r.Count})
		rep.Total += r.Count
	}
	return rep
}

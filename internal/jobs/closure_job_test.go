package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	loc  *time.Location
	rows map[bool][]models.ClosureRow
	days []time.Time
	err  error
}

func (f *fakeSource) Closure(ctx context.Context, day time.Time, soloFlex bool) ([]models.ClosureRow, error) {
	f.days = append(f.days, day)
	return f.rows[soloFlex], f.err
}

func (f *fakeSource) Location() *time.Location { return f.loc }

type published struct {
	topic string
	key   string
	v     any
}

type fakePublisher struct {
	out []published
	err error
}

func (p *fakePublisher) PublishJSON(ctx context.Context, topic, key string, v any) error {
	if p.err != nil {
		return p.err
	}
	p.out = append(p.out, published{topic: topic, key: key, v: v})
	return nil
}

func TestClosureJob_RunOnce(t *testing.T) {
	art := time.FixedZone("ART", -3*3600)
	src := &fakeSource{loc: art, rows: map[bool][]models.ClosureRow{
		false: {{DriverID: 1, DriverName: "Juan", Count: 3}, {DriverID: 2, DriverName: "Luis", Count: 2}},
		true:  {{DriverID: 1, DriverName: "Juan", Count: 1}},
	}}
	pub := &fakePublisher{}
	j := NewClosureJob(src, pub, "closure.report", "", nil)
	// 01:30 UTC is still the previous day in ART
	j.SetClock(func() time.Time { return time.Date(2026, 3, 3, 1, 30, 0, 0, time.UTC) })

	reps, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, reps, 2)
	require.Equal(t, "2026-03-02", reps[0].Day)
	require.Equal(t, 5, reps[0].Total)
	require.False(t, reps[0].SoloFlex)
	require.Equal(t, 1, reps[1].Total)
	require.True(t, reps[1].SoloFlex)

	require.Len(t, pub.out, 2)
	require.Equal(t, "closure.report", pub.out[0].topic)
	require.Equal(t, "2026-03-02", pub.out[0].key)
	require.Equal(t, "2026-03-02:flex", pub.out[1].key)
	require.IsType(t, messages.ClosureReport{}, pub.out[0].v)
	require.Equal(t, art, src.days[0].Location())
}

func TestClosureJob_EmptyDayStillReports(t *testing.T) {
	src := &fakeSource{loc: time.UTC, rows: map[bool][]models.ClosureRow{}}
	pub := &fakePublisher{}
	j := NewClosureJob(src, pub, "t", "", nil)

	reps, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, reps[0].Drivers)
	require.Zero(t, reps[0].Total)
	require.Len(t, pub.out, 2)
}

func TestClosureJob_Errors(t *testing.T) {
	src := &fakeSource{loc: time.UTC, err: errors.New("db down")}
	_, err := NewClosureJob(src, &fakePublisher{}, "t", "", nil).RunOnce(context.Background())
	require.ErrorContains(t, err, "db down")

	src = &fakeSource{loc: time.UTC}
	_, err = NewClosureJob(src, &fakePublisher{err: errors.New("broker down")}, "t", "", nil).RunOnce(context.Background())
	require.ErrorContains(t, err, "publish closure report")
}

func TestClosureJob_StartRejectsBadSpec(t *testing.T) {
	j := NewClosureJob(&fakeSource{loc: time.UTC}, nil, "t", "not a cron spec", nil)
	require.Error(t, j.Start())

	j = NewClosureJob(&fakeSource{loc: time.UTC}, nil, "t", "0 22 * * *", nil)
	require.NoError(t, j.Start())
	j.Stop()
}

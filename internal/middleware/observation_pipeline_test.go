package middleware

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FluxDash/internal/domain/models"
	"FluxDash/internal/testutil"
)

type recProc struct {
	mu   sync.Mutex
	err  error
	rows int
}

func (r *recProc) ProcessBatch(_ context.Context, _ string, obs []models.Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rows += len(obs)
	return nil
}

func (r *recProc) set(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recProc) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}

const ds = "penticton_radio_flux"

func TestPipelineForwardsOnlyNewer(t *testing.T) {
	proc := &recProc{}
	p := NewObservationPipeline(proc, testutil.NewMetrics())
	start := testutil.Day(2024, 1, 1)
	series := testutil.DailySeries(start, testutil.F(70), testutil.F(71), testutil.F(72))

	got, err := p.Process(context.Background(), ds, series)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	series = append(series, testutil.DailySeries(start.AddDate(0, 0, 3), testutil.F(73))...)
	got, err = p.Process(context.Background(), ds, series)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, start.AddDate(0, 0, 3), got[0].Time)
	assert.Equal(t, 4, proc.count())

	got, err = p.Process(context.Background(), ds, series)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPipelineSeed(t *testing.T) {
	proc := &recProc{}
	p := NewObservationPipeline(proc, testutil.NewMetrics())
	start := testutil.Day(2024, 1, 1)
	p.Seed(ds, start.AddDate(0, 0, 1))

	got, err := p.Process(context.Background(), ds, testutil.DailySeries(start, testutil.F(1), testutil.F(2), testutil.F(3)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, start.AddDate(0, 0, 2), p.Last(ds))
}

func TestPipelineDropsInvalid(t *testing.T) {
	m := testutil.NewMetrics()
	p := NewObservationPipeline(&recProc{}, m)
	start := testutil.Day(2024, 1, 1)
	obs := []models.Observation{
		{Time: start, ObservedFlux: testutil.F(-1)},
		{Time: start.AddDate(0, 0, 1), ObservedFlux: testutil.F(math.NaN())},
		{ObservedFlux: testutil.F(10)},
		{Time: start.AddDate(0, 0, 2), AdjustedFlux: testutil.F(math.Inf(1))},
		{Time: start.AddDate(0, 0, 3)},
	}

	got, err := p.Process(context.Background(), ds, obs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].ObservedFlux)
	assert.Equal(t, 1, m.ErrorCount("pipeline_validate"))
}

func TestPipelineBuffersAndFlushes(t *testing.T) {
	proc := &recProc{err: errors.New("broker down")}
	m := testutil.NewMetrics()
	p := NewObservationPipeline(proc, m, WithBackoff(time.Millisecond, 5*time.Millisecond))

	_, err := p.Process(context.Background(), ds, testutil.DailySeries(testutil.Day(2024, 1, 1), testutil.F(1), testutil.F(2)))
	require.Error(t, err)
	assert.Equal(t, 1, p.Buffered())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	proc.set(nil)
	assert.Eventually(t, func() bool { return proc.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Buffered())
}

func TestPipelineRestarts(t *testing.T) {
	proc := &recProc{err: errors.New("broker down")}
	p := NewObservationPipeline(proc, testutil.NewMetrics(), WithBackoff(time.Millisecond, 5*time.Millisecond))
	ctx := context.Background()

	p.Start(ctx)
	p.Stop()
	p.Stop()

	_, err := p.Process(ctx, ds, testutil.DailySeries(testutil.Day(2024, 1, 1), testutil.F(1)))
	require.Error(t, err)
	proc.set(nil)

	p.Start(ctx)
	assert.Eventually(t, func() bool { return proc.count() == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestPipelineFullBufferRewinds(t *testing.T) {
	proc := &recProc{err: errors.New("down")}
	m := testutil.NewMetrics()
	p := NewObservationPipeline(proc, m, WithBufferSize(1))
	start := testutil.Day(2024, 1, 1)

	_, err := p.Process(context.Background(), ds, testutil.DailySeries(start, testutil.F(1)))
	require.Error(t, err)
	_, err = p.Process(context.Background(), ds, testutil.DailySeries(start, testutil.F(1), testutil.F(2)))
	require.Error(t, err)

	assert.Equal(t, 1, m.ErrorCount("pipeline_buffer_drop"))
	assert.Equal(t, start, p.Last(ds))
}

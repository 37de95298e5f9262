// Package testutil holds in-memory fakes of the domain interfaces.
package testutil

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"FluxDash/internal/domain/models"
	domrepo "FluxDash/internal/domain/repository"
)

// F returns a pointer to v.
func F(v float64) *float64 { return &v }

// Day returns midnight UTC of the given date.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DailySeries builds consecutive daily observations starting at start.
// A nil entry in observed produces a missing value.
func DailySeries(start time.Time, observed ...*float64) []models.Observation {
	out := make([]models.Observation, len(observed))
	for i, v := range observed {
		out[i] = models.Observation{Time: start.AddDate(0, 0, i), ObservedFlux: v}
		if v != nil {
			out[i].AdjustedFlux = F(*v * 0.97)
		}
	}
	return out
}

// Metrics records calls for assertions.
type Metrics struct {
	mu       sync.Mutex
	Errors   map[string]int
	Fetched  map[string]int
	Stored   map[string]int
	Removed  map[string]int
	LastFlux map[string]float64
}

func NewMetrics() *Metrics {
	return &Metrics{
		Errors:   map[string]int{},
		Fetched:  map[string]int{},
		Stored:   map[string]int{},
		Removed:  map[string]int{},
		LastFlux: map[string]float64{},
	}
}

func (m *Metrics) RecordFetch(source string, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetched[source] += rows
}

func (m *Metrics) RecordStored(backend string, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stored[backend] += rows
}

func (m *Metrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[kind]++
}

func (m *Metrics) RecordLastFlux(field string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastFlux[field] = v
}

func (m *Metrics) RecordLatency(string, float64) {}

func (m *Metrics) RecordRemoved(model string, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Removed[model] += rows
}

// ErrorCount returns the number of errors recorded for kind.
func (m *Metrics) ErrorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Errors[kind]
}

// Source is a FluxSource serving a fixed series.
type Source struct {
	mu      sync.Mutex
	Name    string
	Obs     []models.Observation
	Err     error
	Delay   time.Duration
	calls   atomic.Int32
	release chan struct{}
}

func NewSource(obs []models.Observation) *Source {
	return &Source{Name: "penticton_radio_flux", Obs: obs}
}

func (s *Source) Dataset() string { return s.Name }

// Calls returns how many fetches reached the source.
func (s *Source) Calls() int { return int(s.calls.Load()) }

// Block makes fetches wait until Release is called.
func (s *Source) Block() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release = make(chan struct{})
}

func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release != nil {
		close(s.release)
		s.release = nil
	}
}

func (s *Source) Set(obs []models.Observation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Obs, s.Err = obs, err
}

func (s *Source) Fetch(ctx context.Context, _, _ time.Time) (*models.Series, error) {
	s.calls.Add(1)
	s.mu.Lock()
	release, obs, err, delay := s.release, s.Obs, s.Err, s.Delay
	s.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return &models.Series{
		Dataset:      s.Name,
		Source:       models.SourceUpstream,
		FetchedAt:    time.Now().UTC(),
		Observations: append([]models.Observation(nil), obs...),
	}, nil
}

// Storage is an in-memory Storage keyed by dataset and time.
type Storage struct {
	mu   sync.Mutex
	rows map[string]map[int64]models.Observation
	Err  error
}

func NewStorage() *Storage {
	return &Storage{rows: map[string]map[int64]models.Observation{}}
}

func (s *Storage) Init(context.Context) error { return nil }

func (s *Storage) StoreBatch(_ context.Context, dataset string, obs []models.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	m, ok := s.rows[dataset]
	if !ok {
		m = map[int64]models.Observation{}
		s.rows[dataset] = m
	}
	for _, o := range obs {
		m[o.Time.UnixMilli()] = o
	}
	return nil
}

func (s *Storage) sorted(dataset string) []models.Observation {
	out := make([]models.Observation, 0, len(s.rows[dataset]))
	for _, o := range s.rows[dataset] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func (s *Storage) Query(_ context.Context, dataset string, from, to time.Time, limit int) ([]models.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	series := models.Series{Observations: s.sorted(dataset)}
	out := series.Between(from, to)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Storage) Latest(_ context.Context, dataset string, n int) ([]models.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	all := s.sorted(dataset)
	if n < len(all) {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Len returns the number of stored observations for dataset.
func (s *Storage) Len(dataset string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[dataset])
}

func (s *Storage) Health(context.Context) error { return s.Err }
func (s *Storage) Close() error                 { return nil }

// Publisher records published batches.
type Publisher struct {
	mu      sync.Mutex
	Batches [][]models.Observation
	Err     error
}

func (p *Publisher) PublishBatch(_ context.Context, _ string, obs []models.Observation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Batches = append(p.Batches, append([]models.Observation(nil), obs...))
	return nil
}

func (p *Publisher) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Published returns the total number of published observations.
func (p *Publisher) Published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.Batches {
		n += len(b)
	}
	return n
}

func (p *Publisher) Close() error { return nil }

// Broadcaster records events.
type Broadcaster struct {
	mu     sync.Mutex
	events []models.SeriesEvent
}

func (b *Broadcaster) Broadcast(ev models.SeriesEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *Broadcaster) Events() []models.SeriesEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.SeriesEvent(nil), b.events...)
}

var (
	_ domrepo.Metrics     = (*Metrics)(nil)
	_ domrepo.FluxSource  = (*Source)(nil)
	_ domrepo.Storage     = (*Storage)(nil)
	_ domrepo.Publisher   = (*Publisher)(nil)
	_ domrepo.Broadcaster = (*Broadcaster)(nil)
)

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"FluxDash/internal/domain/models"
	domrepo "FluxDash/internal/domain/repository"
	pkgch "FluxDash/pkg/clickhouse"
	applogger "FluxDash/pkg/logger"
)

// insertChunk bounds rows per INSERT statement.
const insertChunk = 2000

// CHFluxStore implements Storage backed by ClickHouse.
type CHFluxStore struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHFluxStore(ch *pkgch.Client, l *applogger.Logger) *CHFluxStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHFluxStore{
		ch:    ch,
		db:    ch.DB(),
		table: fmt.Sprintf("%s.%s", ch.Database(), pkgch.FluxTable),
		l:     l.Named("flux-store"),
	}
}

var _ domrepo.Storage = (*CHFluxStore)(nil)

func (s *CHFluxStore) Init(ctx context.Context) error {
	if err := s.ch.InitSchema(ctx, pkgch.FluxSchema(s.ch.Database())); err != nil {
		return err
	}
	s.l.Info("schema ready", applogger.String("table", s.table))
	return nil
}

func (s *CHFluxStore) StoreBatch(ctx context.Context, dataset string, obs []models.Observation) error {
	for start := 0; start < len(obs); start += insertChunk {
		end := min(start+insertChunk, len(obs))
		q, args := buildInsert(s.table, dataset, models.SourceUpstream, obs[start:end])
		if q == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("insert failed",
				applogger.String("dataset", dataset),
				applogger.Int("rows", end-start),
				applogger.Error(err))
			return fmt.Errorf("store batch: %w", err)
		}
	}
	return nil
}

func buildInsert(table, dataset, source string, obs []models.Observation) (string, []interface{}) {
	values := make([]string, 0, len(obs))
	args := make([]interface{}, 0, len(obs)*5)
	for _, o := range obs {
		if o.Time.IsZero() {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?)")
		args = append(args, dataset, o.Time.UTC(), o.ObservedFlux, o.AdjustedFlux, source)
	}
	if len(values) == 0 {
		return "", nil
	}
	q := fmt.Sprintf("INSERT INTO %s (dataset, time, observed_flux, adjusted_flux, source) VALUES %s",
		table, strings.Join(values, ","))
	return q, args
}

// Query returns observations in [from, to] ascending. Zero bounds are open and
// limit <= 0 means no limit.
func (s *CHFluxStore) Query(ctx context.Context, dataset string, from, to time.Time, limit int) ([]models.Observation, error) {
	q, args := buildSelect(s.table, dataset, from, to, limit)
	return s.scan(ctx, "query", q, args...)
}

func buildSelect(table, dataset string, from, to time.Time, limit int) (string, []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT time, observed_flux, adjusted_flux FROM %s FINAL WHERE dataset = ?", table)
	args := []interface{}{dataset}
	if !from.IsZero() {
		b.WriteString(" AND time >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		b.WriteString(" AND time <= ?")
		args = append(args, to.UTC())
	}
	b.WriteString(" ORDER BY time ASC")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	return b.String(), args
}

// Latest returns the newest n observations, ascending.
func (s *CHFluxStore) Latest(ctx context.Context, dataset string, n int) ([]models.Observation, error) {
	if n <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT time, observed_flux, adjusted_flux FROM (
	SELECT time, observed_flux, adjusted_flux FROM %s FINAL
	WHERE dataset = ? ORDER BY time DESC LIMIT ?
) ORDER BY time ASC`, s.table)
	return s.scan(ctx, "latest", q, dataset, n)
}

func (s *CHFluxStore) scan(ctx context.Context, op, q string, args ...interface{}) ([]models.Observation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("select failed", applogger.String("op", op), applogger.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.Observation, 0, 1024)
	for rows.Next() {
		var (
			o        models.Observation
			obs, adj sql.NullFloat64
		)
		if err := rows.Scan(&o.Time, &obs, &adj); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		o.Time = o.Time.UTC()
		o.ObservedFlux = nullable(obs)
		o.AdjustedFlux = nullable(adj)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func (s *CHFluxStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

// Close is a no-op; the client is owned by the DI container.
func (s *CHFluxStore) Close() error {
	return nil
}

// Package lasp reads daily radio flux series from the LASP LaTiS data server.
package lasp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"FluxDash/internal/domain/models"
	xhttp "FluxDash/pkg/http"
	applogger "FluxDash/pkg/logger"
)

const DefaultDataset = "penticton_radio_flux"

// Client implements repository.FluxSource over LaTiS .jsond endpoints.
type Client struct {
	http    *xhttp.Client
	baseURL string
	dataset string
	log     *applogger.Logger
	now     func() time.Time
}

func NewClient(baseURL, dataset string, log *applogger.Logger, opts ...xhttp.ClientOption) *Client {
	if dataset == "" {
		dataset = DefaultDataset
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &Client{
		http:    xhttp.NewClient(opts...),
		baseURL: strings.TrimRight(baseURL, "/"),
		dataset: dataset,
		log:     log.Named("lasp"),
		now:     time.Now,
	}
}

func (c *Client) Dataset() string { return c.dataset }

// URL returns the dataset endpoint.
func (c *Client) URL() string {
	return fmt.Sprintf("%s/%s.jsond", c.baseURL, c.dataset)
}

// Fetch downloads the series. Zero bounds are not sent, so a zero range
// fetches the full history.
func (c *Client) Fetch(ctx context.Context, from, to time.Time) (*models.Series, error) {
	start := c.now()

	var body []byte
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:   xhttp.MethodGet,
		URL:      c.URL(),
		Headers:  map[string]string{"Accept": "application/json"},
		RawQuery: selection(from, to),
	}, &body)
	if err != nil {
		return nil, fmt.Errorf("lasp fetch %s: %w", c.dataset, err)
	}

	obs, skipped, err := Parse(body, c.dataset)
	if err != nil {
		return nil, fmt.Errorf("lasp parse %s: %w", c.dataset, err)
	}

	c.log.Info("lasp fetch ok",
		applogger.String("dataset", c.dataset),
		applogger.Int("rows", len(obs)),
		applogger.Int("skipped", skipped),
		applogger.Int("bytes", len(body)),
		applogger.Duration("took_ms", c.now().Sub(start)),
	)

	return &models.Series{
		Dataset:      c.dataset,
		Source:       models.SourceUpstream,
		FetchedAt:    c.now().UTC(),
		Observations: obs,
	}, nil
}

// selection builds the LaTiS selection clause; operators must stay literal.
func selection(from, to time.Time) string {
	var parts []string
	if !from.IsZero() {
		parts = append(parts, "time>="+url.QueryEscape(from.UTC().Format(time.RFC3339)))
	}
	if !to.IsZero() {
		parts = append(parts, "time<="+url.QueryEscape(to.UTC().Format(time.RFC3339)))
	}
	return strings.Join(parts, "&")
}

type payload struct {
	Data [][]json.RawMessage `json:"data"`
}

// cell returns the number held by raw, or nil for null, strings and any other non-number.
func cell(raw json.RawMessage) *float64 {
	var v *float64
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return nil
	}
	return v
}

// Parse decodes a .jsond document of the form
// {"<dataset>": {"data": [[time_ms, observed, adjusted], ...]}}.
// Null or non-numeric fluxes become nil. Rows whose time is missing or not a
// number, and rows with fewer than two columns, are skipped and counted. The result is sorted by time.
func Parse(body []byte, dataset string) ([]models.Observation, int, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, 0, err
	}
	raw, ok := doc[dataset]
	if !ok {
		return nil, 0, fmt.Errorf("dataset %q missing from payload", dataset)
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, 0, err
	}

	obs := make([]models.Observation, 0, len(p.Data))
	skipped := 0
	for _, row := range p.Data {
		if len(row) < 2 {
			skipped++
			continue
		}
		ms := cell(row[0])
		if ms == nil {
			skipped++
			continue
		}
		o := models.Observation{
			Time:         time.UnixMilli(int64(*ms)).UTC(),
			ObservedFlux: cell(row[1]),
		}
		if len(row) > 2 {
			o.AdjustedFlux = cell(row[2])
		}
		obs = append(obs, o)
	}

	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Time.Before(obs[j].Time) })
	return obs, skipped, nil
}

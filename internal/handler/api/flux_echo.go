package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	models "FluxDash/internal/domain/models"
	domrepo "FluxDash/internal/domain/repository"
	"FluxDash/internal/service/metrics"
	"FluxDash/internal/usecase"
	xhttp "FluxDash/pkg/http"
	xlogger "FluxDash/pkg/logger"
)

// FluxEchoHandler serves the chart, grid and summary views of the flux series.
type FluxEchoHandler struct {
	logger    *xlogger.Logger
	explorer  *usecase.FluxExplorer
	collector *usecase.FluxCollector
	store     domrepo.Storage
	backend   string
}

func NewFluxEchoHandler(logger *xlogger.Logger, explorer *usecase.FluxExplorer, collector *usecase.FluxCollector) *FluxEchoHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &FluxEchoHandler{logger: logger.Named("api"), explorer: explorer, collector: collector}
}

// WithHealthStorage makes /healthz report storage reachability.
func (h *FluxEchoHandler) WithHealthStorage(backend string, store domrepo.Storage) *FluxEchoHandler {
	h.backend, h.store = backend, store
	return h
}

func (h *FluxEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/flux")
	g.GET("/series", h.Series)
	g.GET("/rows", h.Rows)
	g.GET("/summary", h.Summary)
	g.POST("/refresh", h.Refresh)
}

func observe(endpoint string, start time.Time) {
	metrics.ExplorerLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (h *FluxEchoHandler) maxAge() int {
	return int(h.explorer.CacheTTL().Seconds())
}

func (h *FluxEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	metrics.ExplorerErrors.WithLabelValues(endpoint).Inc()
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(endpoint+" usecase error", xlogger.Error(err))
	} else {
		h.logger.Warn(endpoint+" rejected", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, usecase.ErrUnavailable):
		return xhttp.UpstreamError("flux data unavailable from upstream and storage").WithError(err)
	case errors.Is(err, usecase.ErrCollectBusy):
		return xhttp.ConflictError("refresh already running").WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.TimeoutError("request timed out").WithError(err)
	default:
		return xhttp.InternalError("something went wrong").WithError(err)
	}
}

func cleanOptions(req *models.SeriesRequest) (models.CleanOptions, *xhttp.AppError) {
	from, to, appErr := xhttp.ParseRange(req.From, req.To)
	if appErr != nil {
		return models.CleanOptions{}, appErr
	}
	return models.CleanOptions{
		Field:          string(domrepo.NormalizeField(req.Field)),
		RemoveOutliers: req.RemoveOutliers,
		Model:          req.Model,
		RollingWindow:  req.RollingWindow,
		Threshold:      req.Threshold,
		MovingAverage:  req.MovingAverage,
		Window:         req.Window,
		From:           from,
		To:             to,
	}, nil
}

// Series returns the cleaned series as parallel arrays for the chart.
func (h *FluxEchoHandler) Series(c echo.Context) error {
	defer observe("series", time.Now())
	req := &models.SeriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	opts, appErr := cleanOptions(req)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}

	res, err := h.explorer.Chart(c.Request().Context(), opts)
	if err != nil {
		return h.fail(c, "series", err)
	}
	xhttp.SetCacheControl(c, h.maxAge())
	return xhttp.SuccessResponse(c, res)
}

// Rows returns one page of grid rows, newest first.
func (h *FluxEchoHandler) Rows(c echo.Context) error {
	defer observe("rows", time.Now())
	req := &models.RowsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	opts, appErr := cleanOptions(&req.SeriesRequest)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}

	rows, total, err := h.explorer.Rows(c.Request().Context(), opts, req.Page, req.Limit)
	if err != nil {
		return h.fail(c, "rows", err)
	}
	xhttp.SetCacheControl(c, h.maxAge())
	return xhttp.ListResponse(c, rows, int64(total), req.Page, req.Limit)
}

func (h *FluxEchoHandler) Summary(c echo.Context) error {
	defer observe("summary", time.Now())
	req := &models.SummaryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.explorer.Summary(c.Request().Context(), req.Field)
	if err != nil {
		return h.fail(c, "summary", err)
	}
	xhttp.SetCacheControl(c, h.maxAge())
	return xhttp.SuccessResponse(c, res)
}

// Refresh runs a collection cycle now and returns the broadcast event.
func (h *FluxEchoHandler) Refresh(c echo.Context) error {
	defer observe("refresh", time.Now())
	if h.collector == nil {
		s, err := h.explorer.Refresh(c.Request().Context())
		if err != nil {
			return h.fail(c, "refresh", err)
		}
		return xhttp.SuccessResponse(c, models.SeriesEvent{
			Type:      usecase.EventSeriesRefreshed,
			Dataset:   s.Dataset,
			Count:     s.Len(),
			Timestamp: time.Now().UTC(),
		})
	}

	ev, err := h.collector.Collect(c.Request().Context())
	if err != nil {
		return h.fail(c, "refresh", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, ev)
}

type health struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
	Storage string `json:"storage,omitempty"`
}

func (h *FluxEchoHandler) Health(c echo.Context) error {
	res := health{Status: "ok", Backend: h.backend}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Health(ctx); err != nil {
			h.logger.Warn("health storage down", xlogger.Error(err))
			res.Status, res.Storage = "degraded", "down"
			return xhttp.DataResponse(c, http.StatusServiceUnavailable, res)
		}
		res.Storage = "up"
	}
	return xhttp.SuccessResponse(c, res)
}

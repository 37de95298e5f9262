package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FluxDash/pkg/http/envelope"
	applogger "FluxDash/pkg/logger"
)

type fixedAllower bool

func (a fixedAllower) Allow(string) bool { return bool(a) }

func serve(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRateLimitWritesEnvelope(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(fixedAllower(false), "/api"))
	e.GET("/api/flux", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := serve(e, "/api/flux")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var body struct {
		envelope.Response
		Data []envelope.FieldError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusTooManyRequests, body.Status)
	assert.Equal(t, "Too Many Requests", body.Message)
	require.Len(t, body.Data, 1)
	assert.Equal(t, envelope.CodeRateLimited, body.Data[0].Code)

	assert.Equal(t, http.StatusOK, serve(e, "/health").Code)
}

func TestRateLimitPassesAllowed(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(fixedAllower(true), "/api"))
	e.GET("/api/flux", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(e, "/api/flux").Code)
}

func TestRecoverWritesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(Recover(applogger.NewWriter(&buf, zerolog.DebugLevel)))
	e.GET("/boom", func(echo.Context) error { panic("boom") })

	rec := serve(e, "/boom")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body envelope.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusInternalServerError, body.Status)
	assert.Equal(t, "Internal Server Error", body.Message)
	assert.Nil(t, body.Data)
	assert.Contains(t, buf.String(), "panic recovered")
}

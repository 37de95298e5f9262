package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type windowRequest struct {
	Field  string `query:"field" default:"observed_flux" validate:"oneof=observed_flux adjusted_flux"`
	Window int    `query:"window" default:"7" validate:"gte=1,lte=81"`
	Name   string `query:"name" validate:"omitempty,min=3"`
}

func newContext(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestReadAndValidateRequest_Defaults(t *testing.T) {
	c, _ := newContext("/x")
	req := &windowRequest{}

	require.Nil(t, ReadAndValidateRequest(c, req))
	assert.Equal(t, "observed_flux", req.Field)
	assert.Equal(t, 7, req.Window)
}

func TestReadAndValidateRequest_BoundValuesWin(t *testing.T) {
	c, _ := newContext("/x?field=adjusted_flux&window=27")
	req := &windowRequest{}

	require.Nil(t, ReadAndValidateRequest(c, req))
	assert.Equal(t, "adjusted_flux", req.Field)
	assert.Equal(t, 27, req.Window)
}

func TestReadAndValidateRequest_FieldErrors(t *testing.T) {
	c, _ := newContext("/x?field=bogus&window=0&name=ab")

	verr := ReadAndValidateRequest(c, &windowRequest{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 3)

	byField := map[string]ValidationError{}
	for _, e := range errs {
		byField[e.Field] = e
	}
	assert.Equal(t, "ERR_ONEOF", byField["field"].Code)
	assert.Equal(t, "field must be one of: observed_flux, adjusted_flux", byField["field"].Message)
	assert.Equal(t, []string{"observed_flux", "adjusted_flux"}, byField["field"].Params["options"])
	assert.Equal(t, "window must be greater than or equal to 1", byField["window"].Message)
	assert.Equal(t, "name must be at least 3 characters", byField["name"].Message)
}

func TestReadAndValidateRequest_BindError(t *testing.T) {
	c, _ := newContext("/x?window=abc")

	errs, ok := ReadAndValidateRequest(c, &windowRequest{}).([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BIND", errs[0].Code)
}

func TestAppErrorResponse(t *testing.T) {
	c, rec := newContext("/x")
	cause := errors.New("dial tcp: refused")

	require.NoError(t, AppErrorResponse(c, UpstreamError("no data").WithError(cause)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var env struct {
		Status int        `json:"status"`
		Data   []AppError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusBadGateway, env.Status)
	require.Len(t, env.Data, 1)
	assert.Equal(t, CodeUpstream, env.Data[0].Code)
	assert.NotContains(t, rec.Body.String(), "refused")
}

func TestAppErrorResponse_PlainError(t *testing.T) {
	c, rec := newContext("/x")
	require.NoError(t, AppErrorResponse(c, errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("cause")
	err := ConflictError("busy").WithError(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ERR_CONFLICT: busy: cause", err.Error())
}

func TestParseRange(t *testing.T) {
	_, _, appErr := ParseRange("2024-03-05", "2024-03-01")
	require.NotNil(t, appErr)
	assert.Equal(t, CodeInvalidRange, appErr.Code)
	assert.Equal(t, http.StatusBadRequest, appErr.Status)

	from, to, appErr := ParseRange("2024-03-01", "")
	require.Nil(t, appErr)
	assert.False(t, from.IsZero())
	assert.True(t, to.IsZero())
}

func TestSetCacheControl(t *testing.T) {
	c, rec := newContext("/x")
	SetCacheControl(c, 900)
	assert.Equal(t, "private, max-age=900", rec.Header().Get(echo.HeaderCacheControl))

	c, rec = newContext("/x")
	SetCacheControl(c, 0)
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))
}

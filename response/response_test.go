package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/bspricer/contextx"
	"github.com/wyfcoding/bspricer/xerrors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func run(t *testing.T, fn func(c *gin.Context)) (*httptest.ResponseRecorder, Body) {
	t.Helper()
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request = req.WithContext(contextx.WithRequestID(req.Context(), "req-1"))
	fn(c)

	var body Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
	return rec, body
}

func TestSuccess(t *testing.T) {
	rec, body := run(t, func(c *gin.Context) { Success(c, map[string]int{"n": 1}) })
	if rec.Code != http.StatusOK || body.Code != 0 || body.Msg != "success" {
		t.Fatalf("status=%d body=%+v", rec.Code, body)
	}
}

func TestErrorMapsXErrors(t *testing.T) {
	err := xerrors.ErrInvertedRange.WithDetail("spot range [2, 1]")
	rec, body := run(t, func(c *gin.Context) { Error(c, err) })
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if body.Code != 400102 || body.Detail != "spot range [2, 1]" || body.RequestID != "req-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestErrorWrapped(t *testing.T) {
	err := xerrors.Wrap(xerrors.ErrRateLimited, xerrors.ErrLimitExceeded, "slow down")
	rec, body := run(t, func(c *gin.Context) { Error(c, err) })
	if rec.Code != http.StatusTooManyRequests || body.Code != 429001 || body.Msg != "slow down" {
		t.Fatalf("status=%d body=%+v", rec.Code, body)
	}
}

func TestErrorPlain(t *testing.T) {
	rec, body := run(t, func(c *gin.Context) { Error(c, errors.New("boom")) })
	if rec.Code != http.StatusInternalServerError || body.Code != 500 || body.Msg != "boom" {
		t.Fatalf("status=%d body=%+v", rec.Code, body)
	}
}

package recon_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/recon"
)

func TestGetReport(t *testing.T) {
	f := newFixture(recon.Config{})
	f.seedHealthy(time.Now())
	h := recon.NewHandler(f.svc, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet/reconciliation", nil)
	req = req.WithContext(middleware.WithMerchantID(req.Context(), "m1"))
	rec := httptest.NewRecorder()
	h.GetReport(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data recon.Report `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "m1", body.Data.MerchantID)
	assert.Equal(t, int64(10000), body.Data.ExpectedBalance)
	assert.False(t, body.Data.Drifted)
}

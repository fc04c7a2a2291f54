package apikey_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/activity"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/activity/activitytest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/apikey"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/apikey/apikeytest"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/database"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService() (*apikey.Service, *apikeytest.Store, *activitytest.Store) {
	store := apikeytest.NewStore()
	trail := &activitytest.Store{}
	return apikey.NewService(store, activity.NewLog(trail, discard()), discard()), store, trail
}

func TestCreateAndValidate(t *testing.T) {
	svc, store, trail := newService()
	ctx := context.Background()

	issued, err := svc.Create(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(issued.Secret, apikey.Prefix))
	assert.Len(t, issued.Secret, len(apikey.Prefix)+64)
	assert.Equal(t, issued.Secret[:15], issued.Prefix)
	assert.Equal(t, apikey.Hash(issued.Secret), issued.Hash)
	assert.NotContains(t, issued.Hash, issued.Secret)

	merchantID, err := svc.Validate(ctx, issued.Secret)
	require.NoError(t, err)
	assert.Equal(t, "m1", merchantID)

	keys, _ := store.List(ctx, "m1")
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
	assert.Equal(t, []string{activity.ActionAPIKeyCreated}, trail.Actions())
}

func TestValidateRejects(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()
	issued, err := svc.Create(ctx, "m1")
	require.NoError(t, err)

	for name, secret := range map[string]string{
		"empty":         "",
		"wrong prefix":  "sk_live_" + strings.TrimPrefix(issued.Secret, apikey.Prefix),
		"unknown key":   apikey.Prefix + strings.Repeat("0", 64),
		"truncated key": issued.Secret[:40],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Validate(ctx, secret)
			assert.ErrorIs(t, err, apikey.ErrInvalidKey)
		})
	}
}

func TestRotate(t *testing.T) {
	svc, _, trail := newService()
	ctx := context.Background()
	first, err := svc.Create(ctx, "m1")
	require.NoError(t, err)

	next, err := svc.Rotate(ctx, "m1", first.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Secret, next.Secret)
	assert.True(t, strings.HasPrefix(next.Secret, apikey.Prefix))

	_, err = svc.Validate(ctx, first.Secret)
	assert.ErrorIs(t, err, apikey.ErrInvalidKey)
	merchantID, err := svc.Validate(ctx, next.Secret)
	require.NoError(t, err)
	assert.Equal(t, "m1", merchantID)

	t.Run("already rotated", func(t *testing.T) {
		_, err := svc.Rotate(ctx, "m1", first.ID)
		assert.ErrorIs(t, err, apikey.ErrNotFound)
	})

	t.Run("key of another merchant", func(t *testing.T) {
		_, err := svc.Rotate(ctx, "m2", next.ID)
		assert.ErrorIs(t, err, apikey.ErrNotFound)
		_, err = svc.Validate(ctx, next.Secret)
		assert.NoError(t, err)
	})

	assert.Equal(t, []string{activity.ActionAPIKeyCreated, activity.ActionAPIKeyRotated}, trail.Actions())
}

func TestRevoke(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()
	issued, err := svc.Create(ctx, "m1")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Revoke(ctx, "m2", issued.ID), apikey.ErrNotFound)
	require.NoError(t, svc.Revoke(ctx, "m1", issued.ID))
	_, err = svc.Validate(ctx, issued.Secret)
	assert.ErrorIs(t, err, apikey.ErrInvalidKey)
}

func TestMerchantAPIKeyAuthentication(t *testing.T) {
	svc, _, _ := newService()
	issued, err := svc.Create(context.Background(), "m1")
	require.NoError(t, err)

	var seen string
	h := middleware.MerchantAPIKey(svc.Validate)(middleware.RequireMerchant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetMerchantID(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Secret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m1", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+apikey.Prefix+"nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers(t *testing.T) {
	svc, _, _ := newService()
	router := apikey.NewHandler(svc, discard()).Routes()

	send := func(method, path, merchantID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req = req.WithContext(middleware.WithMerchantID(req.Context(), merchantID))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodPost, "/", "m1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Data struct {
			ID     string `json:"id"`
			APIKey string `json:"api_key"`
			Prefix string `json:"key_prefix"`
			Hash   string `json:"key_hash"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.True(t, strings.HasPrefix(created.Data.APIKey, apikey.Prefix))
	assert.Empty(t, created.Data.Hash)

	rec = send(http.MethodGet, "/", "m1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.Data.APIKey)

	assert.Equal(t, http.StatusNotFound, send(http.MethodPost, "/"+created.Data.ID+"/rotate", "m2").Code)
	assert.Equal(t, http.StatusCreated, send(http.MethodPost, "/"+created.Data.ID+"/rotate", "m1").Code)
	assert.Equal(t, http.StatusNotFound, send(http.MethodDelete, "/"+created.Data.ID, "m1").Code)
}

func TestPostgresRotate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := apikey.NewPostgresStore(database.NewWithPool(mock, discard()))
	ctx := context.Background()
	next := &apikey.Key{ID: "k2", MerchantID: "m1", Prefix: "gtp_live_abcdef", Hash: "h2", Active: true, CreatedAt: time.Now()}

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	mock.ExpectExec("UPDATE api_keys SET is_active = false").
		WithArgs("k1", "m1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs("k2", "m1", "gtp_live_abcdef", "h2", true, next.LastUsedAt, next.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	require.NoError(t, s.Rotate(ctx, "m1", "k1", next))

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	mock.ExpectExec("UPDATE api_keys SET is_active = false").
		WithArgs("k9", "m2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()
	assert.ErrorIs(t, s.Rotate(ctx, "m2", "k9", next), apikey.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := apikey.NewPostgresStore(database.NewWithPool(mock, discard()))
	ctx := context.Background()
	now := time.Now()

	cols := []string{"id", "merchant_id", "key_prefix", "key_hash", "is_active", "last_used_at", "created_at"}
	mock.ExpectQuery("FROM api_keys").WithArgs("h1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("k1", "m1", "gtp_live_abcdef", "h1", true, &now, now))
	k, err := s.FindActive(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "m1", k.MerchantID)
	require.NotNil(t, k.LastUsedAt)
	assert.True(t, now.Equal(*k.LastUsedAt))

	mock.ExpectQuery("FROM api_keys").WithArgs("h2").WillReturnError(pgx.ErrNoRows)
	_, err = s.FindActive(ctx, "h2")
	assert.ErrorIs(t, err, apikey.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

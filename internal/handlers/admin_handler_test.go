package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shannynalayna/grid/internal/handlers"
	"github.com/shannynalayna/grid/internal/ingest"
	"github.com/shannynalayna/grid/internal/ledger"
	"github.com/shannynalayna/grid/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// stubPipeline отдает фиксированное состояние конвейера.
type stubPipeline struct {
	state ingest.State
}

func (s stubPipeline) State() ingest.State {
	return s.state
}

// MockWatermarkRepository is a mock for WatermarkRepository.
type MockWatermarkRepository struct {
	mock.Mock
}

func (m *MockWatermarkRepository) Get(ctx context.Context, stream string) (*models.Watermark, error) {
	args := m.Called(ctx, stream)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.Watermark), args.Error(1)
}

func (m *MockWatermarkRepository) List(ctx context.Context) ([]models.Watermark, error) {
	args := m.Called(ctx)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.([]models.Watermark), args.Error(1)
}

func (m *MockWatermarkRepository) Set(ctx context.Context, ext sqlx.ExtContext, stream string, lastBlockNum int64) error {
	args := m.Called(ctx, ext, stream, lastBlockNum)
	return args.Error(0)
}

func (m *MockWatermarkRepository) ClampTo(ctx context.Context, ext sqlx.ExtContext, blockNum int64) error {
	args := m.Called(ctx, ext, blockNum)
	return args.Error(0)
}

func TestAdminRollback(t *testing.T) {
	t.Run("Успех: откат уходит в ленту как форк", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewAdminHandler(stubPipeline{state: ingest.StateCaughtUp}, feed, new(MockWatermarkRepository))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/admin/rollback",
			bytes.NewReader([]byte(`{"revert_to_block":100}`)))
		h.Rollback(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)

		events := drainFeed(feed)
		require.Len(t, events, 1)
		require.NotNil(t, events[0].Fork)
		assert.Equal(t, int64(100), events[0].Fork.RevertToBlock)
	})

	t.Run("Невалидное тело запроса", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewAdminHandler(stubPipeline{state: ingest.StateCaughtUp}, feed, new(MockWatermarkRepository))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/admin/rollback",
			bytes.NewReader([]byte("не json")))
		h.Rollback(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, drainFeed(feed))
	})

	t.Run("Неположительный блок отката", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewAdminHandler(stubPipeline{state: ingest.StateCaughtUp}, feed, new(MockWatermarkRepository))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/admin/rollback",
			bytes.NewReader([]byte(`{"revert_to_block":-1}`)))
		h.Rollback(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAdminStatus(t *testing.T) {
	t.Run("Успех: состояние и watermark'и", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		watermarkRepo := new(MockWatermarkRepository)
		watermarkRepo.On("List", mock.Anything).Return([]models.Watermark{
			{Stream: "organization", LastBlockNum: 40, UpdatedAt: time.Now()},
			{Stream: "schema", LastBlockNum: 42, UpdatedAt: time.Now()},
		}, nil)

		h := handlers.NewAdminHandler(stubPipeline{state: ingest.StateSyncing}, feed, watermarkRepo)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/admin/status", nil)
		h.Status(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(ingest.StateSyncing), resp.State)
		require.Len(t, resp.Watermarks, 2)
		assert.Equal(t, "schema", resp.Watermarks[1].Stream)
	})

	t.Run("Ошибка чтения watermark'ов", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		watermarkRepo := new(MockWatermarkRepository)
		watermarkRepo.On("List", mock.Anything).Return(nil, errors.New("select error"))

		h := handlers.NewAdminHandler(stubPipeline{state: ingest.StateStalled}, feed, watermarkRepo)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/admin/status", nil)
		h.Status(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

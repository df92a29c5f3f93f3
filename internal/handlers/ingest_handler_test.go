package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shannynalayna/grid/internal/handlers"
	"github.com/shannynalayna/grid/internal/ledger"
	"github.com/shannynalayna/grid/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainFeed забирает из ленты все уже опубликованные события.
func drainFeed(feed *ledger.ChannelFeed) []ledger.Event {
	var events []ledger.Event
	for {
		select {
		case ev := <-feed.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestPublishChangeSets(t *testing.T) {
	validBatch := []models.ChangeSet{
		{
			EntityType: models.EntityTypeSchema,
			RecordKey:  "widget",
			BlockNum:   10,
			Payload:    json.RawMessage(`{"name":"widget"}`),
		},
		{
			EntityType: models.EntityTypeOrganization,
			RecordKey:  "org1",
			BlockNum:   11,
			Payload:    json.RawMessage(`{"org_id":"org1","name":"Org"}`),
		},
	}

	t.Run("Успех: пакет уходит в ленту целиком", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewIngestHandler(feed)

		body, err := json.Marshal(validBatch)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/change-sets", bytes.NewReader(body))
		h.PublishChangeSets(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)

		events := drainFeed(feed)
		require.Len(t, events, 2)
		assert.Equal(t, "widget", events[0].ChangeSet.RecordKey)
		assert.Equal(t, "org1", events[1].ChangeSet.RecordKey)
		// Отсутствующий event_id генерируется при приеме
		assert.NotEqual(t, uuid.Nil, events[0].ChangeSet.EventID)
	})

	t.Run("Переданный event_id сохраняется", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewIngestHandler(feed)

		eventID := uuid.New()
		batch := []models.ChangeSet{validBatch[0]}
		batch[0].EventID = eventID
		body, err := json.Marshal(batch)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/change-sets", bytes.NewReader(body))
		h.PublishChangeSets(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		events := drainFeed(feed)
		require.Len(t, events, 1)
		assert.Equal(t, eventID, events[0].ChangeSet.EventID)
	})

	t.Run("Обрыв соединения клиента не оставляет в ленте префикс пакета", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewIngestHandler(feed)

		body, err := json.Marshal(validBatch)
		require.NoError(t, err)

		// Клиент отвалился еще до публикации
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/change-sets", bytes.NewReader(body)).
			WithContext(ctx)
		h.PublishChangeSets(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Len(t, drainFeed(feed), 2)
	})

	t.Run("Невалидный JSON", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewIngestHandler(feed)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/change-sets",
			bytes.NewReader([]byte("не json")))
		h.PublishChangeSets(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, drainFeed(feed))
	})

	t.Run("Пустой пакет", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewIngestHandler(feed)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/change-sets",
			bytes.NewReader([]byte("[]")))
		h.PublishChangeSets(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Невалидный change-set блокирует весь пакет", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewIngestHandler(feed)

		batch := []models.ChangeSet{
			validBatch[0],
			{EntityType: models.EntityType("unknown"), RecordKey: "x", BlockNum: 12, Payload: json.RawMessage(`{}`)},
		}
		body, err := json.Marshal(batch)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/change-sets", bytes.NewReader(body))
		h.PublishChangeSets(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		// Валидный первый элемент тоже не публикуется
		assert.Empty(t, drainFeed(feed))
	})

	t.Run("Неположительный номер блока", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewIngestHandler(feed)

		batch := []models.ChangeSet{
			{EntityType: models.EntityTypeSchema, RecordKey: "widget", BlockNum: 0, Payload: json.RawMessage(`{}`)},
		}
		body, err := json.Marshal(batch)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/change-sets", bytes.NewReader(body))
		h.PublishChangeSets(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPublishFork(t *testing.T) {
	t.Run("Успех", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewIngestHandler(feed)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/fork",
			bytes.NewReader([]byte(`{"revert_to_block":42}`)))
		h.PublishFork(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)

		events := drainFeed(feed)
		require.Len(t, events, 1)
		require.NotNil(t, events[0].Fork)
		assert.Equal(t, int64(42), events[0].Fork.RevertToBlock)
	})

	t.Run("Неположительный блок отката", func(t *testing.T) {
		feed := ledger.NewChannelFeed(8)
		h := handlers.NewIngestHandler(feed)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/fork",
			bytes.NewReader([]byte(`{"revert_to_block":0}`)))
		h.PublishFork(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, drainFeed(feed))
	})
}

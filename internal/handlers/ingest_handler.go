package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/shannynalayna/grid/internal/ledger"
	"github.com/shannynalayna/grid/internal/middleware"
	"github.com/shannynalayna/grid/internal/models"
)

// IngestHandler принимает события от коллаборатора синхронизации
// и публикует их в ленту конвейера. Сам ничего не пишет в хранилище.
type IngestHandler struct {
	feed *ledger.ChannelFeed
}

// NewIngestHandler создает новый экземпляр IngestHandler.
func NewIngestHandler(feed *ledger.ChannelFeed) *IngestHandler {
	return &IngestHandler{feed: feed}
}

// PublishChangeSets обрабатывает POST пакета change-set'ов.
// Пакет валидируется целиком до публикации: либо в ленту уходят все
// события, либо ни одного.
func (h *IngestHandler) PublishChangeSets(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.GetSubjectFromContext(r.Context())

	var changeSets []models.ChangeSet
	if err := json.NewDecoder(r.Body).Decode(&changeSets); err != nil {
		log.Printf("[IngestHandler:PublishChangeSets] Ошибка декодирования запроса от '%s': %v", subject, err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}
	if len(changeSets) == 0 {
		http.Error(w, "Пустой пакет change-set'ов", http.StatusBadRequest)
		return
	}

	for i := range changeSets {
		cs := &changeSets[i]
		if err := validateChangeSet(cs); err != nil {
			log.Printf("[IngestHandler:PublishChangeSets] Невалидный change-set #%d от '%s': %v", i, subject, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if cs.EventID == uuid.Nil {
			cs.EventID = uuid.New()
		}
	}

	// Проверенный пакет публикуется независимо от судьбы соединения
	// клиента, иначе обрыв посреди цикла оставит в ленте префикс пакета
	pubCtx := context.WithoutCancel(r.Context())
	for i := range changeSets {
		if err := h.feed.Publish(pubCtx, ledger.Event{ChangeSet: &changeSets[i]}); err != nil {
			log.Printf("[IngestHandler:PublishChangeSets] Публикация прервана: %v", err)
			http.Error(w, "Прием событий прерван", http.StatusServiceUnavailable)
			return
		}
	}

	log.Printf("[IngestHandler:PublishChangeSets] Субъект '%s' опубликовал %d change-set'ов", subject, len(changeSets))
	w.WriteHeader(http.StatusAccepted)
}

// PublishFork обрабатывает POST уведомления о форке реестра.
func (h *IngestHandler) PublishFork(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.GetSubjectFromContext(r.Context())

	var fork models.ForkNotification
	if err := json.NewDecoder(r.Body).Decode(&fork); err != nil {
		log.Printf("[IngestHandler:PublishFork] Ошибка декодирования запроса от '%s': %v", subject, err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}
	if fork.RevertToBlock <= 0 {
		http.Error(w, "Номер блока отката должен быть положительным", http.StatusBadRequest)
		return
	}

	if err := h.feed.Publish(r.Context(), ledger.Event{Fork: &fork}); err != nil {
		log.Printf("[IngestHandler:PublishFork] Публикация прервана: %v", err)
		http.Error(w, "Прием событий прерван", http.StatusServiceUnavailable)
		return
	}

	log.Printf("[IngestHandler:PublishFork] Субъект '%s' сообщил о форке, откат до блока %d", subject, fork.RevertToBlock)
	w.WriteHeader(http.StatusAccepted)
}

// validateChangeSet проверяет обязательные поля входящего change-set'а.
// Тип property_definition снаружи не принимается: определения свойств
// порождает сам проектор из payload'а схемы.
func validateChangeSet(cs *models.ChangeSet) error {
	switch cs.EntityType {
	case models.EntityTypeSchema, models.EntityTypeOrganization:
	default:
		return fmt.Errorf("неизвестный тип сущности '%s'", cs.EntityType)
	}
	if cs.RecordKey == "" {
		return errors.New("пустой record_key")
	}
	if cs.BlockNum <= 0 {
		return errors.New("номер блока должен быть положительным")
	}
	if len(cs.Payload) == 0 {
		return errors.New("пустой payload")
	}
	return nil
}

package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/shannynalayna/grid/internal/ingest"
	"github.com/shannynalayna/grid/internal/ledger"
	"github.com/shannynalayna/grid/internal/middleware"
	"github.com/shannynalayna/grid/internal/models"
	"github.com/shannynalayna/grid/internal/repository"
)

// StatusReporter отдает текущее состояние конвейера приема.
type StatusReporter interface {
	State() ingest.State
}

// AdminHandler обрабатывает служебные запросы оператора.
type AdminHandler struct {
	pipeline      StatusReporter
	feed          *ledger.ChannelFeed
	watermarkRepo repository.WatermarkRepository
}

// NewAdminHandler создает новый экземпляр AdminHandler.
func NewAdminHandler(pipeline StatusReporter, feed *ledger.ChannelFeed, watermarkRepo repository.WatermarkRepository) *AdminHandler {
	return &AdminHandler{
		pipeline:      pipeline,
		feed:          feed,
		watermarkRepo: watermarkRepo,
	}
}

// RollbackRequest представляет тело запроса принудительного отката.
type RollbackRequest struct {
	RevertToBlock int64 `json:"revert_to_block"`
}

// StatusResponse представляет ответ эндпоинта статуса.
type StatusResponse struct {
	State      string             `json:"state"`
	Watermarks []models.Watermark `json:"watermarks"`
}

// Rollback обрабатывает запрос оператора на принудительный откат
// истории до указанного блока. Откат уходит в ленту как уведомление
// о форке: так он сериализуется с приемом change-set'ов и не гоняется
// с конвейером за одни и те же строки.
func (h *AdminHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.GetSubjectFromContext(r.Context())

	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[AdminHandler:Rollback] Ошибка декодирования запроса от '%s': %v", subject, err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}
	if req.RevertToBlock <= 0 {
		http.Error(w, "Номер блока отката должен быть положительным", http.StatusBadRequest)
		return
	}

	fork := models.ForkNotification{RevertToBlock: req.RevertToBlock}
	if err := h.feed.Publish(r.Context(), ledger.Event{Fork: &fork}); err != nil {
		log.Printf("[AdminHandler:Rollback] Публикация отката прервана: %v", err)
		http.Error(w, "Прием событий прерван", http.StatusServiceUnavailable)
		return
	}

	log.Printf("[AdminHandler:Rollback] Оператор '%s' запросил откат до блока %d", subject, req.RevertToBlock)
	w.WriteHeader(http.StatusAccepted)
}

// Status возвращает состояние конвейера и watermark'и потоков.
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	watermarks, err := h.watermarkRepo.List(r.Context())
	if err != nil {
		log.Printf("[AdminHandler:Status] Ошибка чтения watermark'ов: %v", err)
		http.Error(w, "Сервис временно недоступен", http.StatusServiceUnavailable)
		return
	}
	if watermarks == nil {
		watermarks = []models.Watermark{}
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		State:      string(h.pipeline.State()),
		Watermarks: watermarks,
	})
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shannynalayna/grid/internal/models"
	"github.com/shannynalayna/grid/internal/services"
	apimodels "github.com/shannynalayna/grid/models"
)

// QueryHandler обрабатывает читающие HTTP-запросы к зеркалу.
type QueryHandler struct {
	queryService services.QueryService
}

// NewQueryHandler создает новый экземпляр QueryHandler.
func NewQueryHandler(qs services.QueryService) *QueryHandler {
	return &QueryHandler{queryService: qs}
}

// ListSchemas обрабатывает GET запрос списка текущих схем.
func (h *QueryHandler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	records, nextPageToken, ok := h.listRecords(w, r, models.EntityTypeSchema)
	if !ok {
		return
	}

	resp := apimodels.SchemaListSlice{
		Data:          make([]apimodels.SchemaSlice, 0, len(records)),
		NextPageToken: nextPageToken,
	}
	for i := range records {
		slice, err := schemaSliceFromRecord(&records[i])
		if err != nil {
			log.Printf("[QueryHandler:ListSchemas] Ошибка преобразования записи '%s': %v",
				records[i].RecordKey, err)
			http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
			return
		}
		resp.Data = append(resp.Data, slice)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetSchema обрабатывает GET запрос одной схемы: текущей версии
// или исторической (?at_block=N).
func (h *QueryHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	record, ok := h.fetchRecord(w, r, models.EntityTypeSchema, name)
	if !ok {
		return
	}

	slice, err := schemaSliceFromRecord(record)
	if err != nil {
		log.Printf("[QueryHandler:GetSchema] Ошибка преобразования записи '%s': %v", name, err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, slice)
}

// ListOrganizations обрабатывает GET запрос списка текущих организаций.
func (h *QueryHandler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	records, nextPageToken, ok := h.listRecords(w, r, models.EntityTypeOrganization)
	if !ok {
		return
	}

	resp := apimodels.OrganizationListSlice{
		Data:          make([]apimodels.OrganizationSlice, 0, len(records)),
		NextPageToken: nextPageToken,
	}
	for i := range records {
		slice, err := organizationSliceFromRecord(&records[i])
		if err != nil {
			log.Printf("[QueryHandler:ListOrganizations] Ошибка преобразования записи '%s': %v",
				records[i].RecordKey, err)
			http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
			return
		}
		resp.Data = append(resp.Data, slice)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetOrganization обрабатывает GET запрос одной организации.
func (h *QueryHandler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "id")

	record, ok := h.fetchRecord(w, r, models.EntityTypeOrganization, orgID)
	if !ok {
		return
	}

	slice, err := organizationSliceFromRecord(record)
	if err != nil {
		log.Printf("[QueryHandler:GetOrganization] Ошибка преобразования записи '%s': %v", orgID, err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, slice)
}

// fetchRecord читает одну запись: текущую или, при наличии ?at_block,
// историческую. Ошибки пишет в ответ сам; второй результат — успех.
func (h *QueryHandler) fetchRecord(
	w http.ResponseWriter,
	r *http.Request,
	entityType models.EntityType,
	recordKey string,
) (*models.VersionedRecord, bool) {
	serviceID := r.URL.Query().Get("service_id")
	atBlockStr := r.URL.Query().Get("at_block")

	var (
		record *models.VersionedRecord
		err    error
	)
	if atBlockStr != "" {
		atBlock, parseErr := strconv.ParseInt(atBlockStr, 10, 64)
		if parseErr != nil || atBlock < 0 {
			log.Printf("[QueryHandler] Неверный параметр at_block: %s", atBlockStr)
			http.Error(w, "Неверный параметр at_block", http.StatusBadRequest)
			return nil, false
		}
		record, err = h.queryService.GetAsOf(r.Context(), entityType, recordKey, serviceID, atBlock)
	} else {
		record, err = h.queryService.GetCurrent(r.Context(), entityType, recordKey, serviceID)
	}

	if err != nil {
		h.writeQueryError(w, entityType, recordKey, err)
		return nil, false
	}
	return record, true
}

// listRecords читает страницу текущих записей. Ошибки пишет в ответ сам.
func (h *QueryHandler) listRecords(
	w http.ResponseWriter,
	r *http.Request,
	entityType models.EntityType,
) ([]models.VersionedRecord, string, bool) {
	query := r.URL.Query()
	serviceID := query.Get("service_id")
	pageToken := query.Get("page_token")
	// Невалидный limit превратится в 0, сервис подставит умолчание
	limit, _ := strconv.Atoi(query.Get("limit"))

	records, nextPageToken, err := h.queryService.List(r.Context(), entityType, serviceID, pageToken, limit)
	if err != nil {
		h.writeQueryError(w, entityType, "", err)
		return nil, "", false
	}
	return records, nextPageToken, true
}

func (h *QueryHandler) writeQueryError(w http.ResponseWriter, entityType models.EntityType, recordKey string, err error) {
	switch {
	case errors.Is(err, services.ErrQueryNotFound):
		http.Error(w, "Запись не найдена", http.StatusNotFound)
	case errors.Is(err, services.ErrInvalidPageToken):
		http.Error(w, "Некорректный токен пагинации", http.StatusBadRequest)
	case errors.Is(err, services.ErrStorageUnavailable):
		log.Printf("[QueryHandler] Хранилище недоступно (%s '%s'): %v", entityType, recordKey, err)
		http.Error(w, "Сервис временно недоступен", http.StatusServiceUnavailable)
	default:
		log.Printf("[QueryHandler] Внутренняя ошибка (%s '%s'): %v", entityType, recordKey, err)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
	}
}

func schemaSliceFromRecord(record *models.VersionedRecord) (apimodels.SchemaSlice, error) {
	var payload models.SchemaPayload
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return apimodels.SchemaSlice{}, fmt.Errorf("ошибка декодирования payload схемы: %w", err)
	}

	properties := make([]apimodels.PropertyDefinitionSlice, 0, len(payload.Properties))
	for _, prop := range payload.Properties {
		properties = append(properties, apimodels.PropertyDefinitionSlice{
			Name:             prop.Name,
			DataType:         prop.DataType,
			Required:         prop.Required,
			Description:      prop.Description,
			NumberExponent:   prop.NumberExponent,
			EnumOptions:      prop.EnumOptions,
			StructProperties: prop.StructProperties,
		})
	}

	return apimodels.SchemaSlice{
		Name:        payload.Name,
		Description: payload.Description,
		Owner:       payload.Owner,
		ServiceID:   record.ServiceID,
		Properties:  properties,
	}, nil
}

func organizationSliceFromRecord(record *models.VersionedRecord) (apimodels.OrganizationSlice, error) {
	var payload models.OrganizationPayload
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return apimodels.OrganizationSlice{}, fmt.Errorf("ошибка декодирования payload организации: %w", err)
	}

	alternateIDs := make([]apimodels.AlternateIDSlice, 0, len(payload.AlternateIDs))
	for _, altID := range payload.AlternateIDs {
		alternateIDs = append(alternateIDs, apimodels.AlternateIDSlice{
			IDType: altID.IDType,
			ID:     altID.ID,
		})
	}

	metadata := make([]apimodels.OrganizationMetadataSlice, 0, len(payload.Metadata))
	for _, entry := range payload.Metadata {
		metadata = append(metadata, apimodels.OrganizationMetadataSlice{
			Key:   entry.Key,
			Value: entry.Value,
		})
	}

	return apimodels.OrganizationSlice{
		OrgID:        payload.OrgID,
		Name:         payload.Name,
		Locations:    payload.Locations,
		AlternateIDs: alternateIDs,
		Metadata:     metadata,
		ServiceID:    record.ServiceID,
	}, nil
}

// writeJSON отправляет успешный JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Handlers] Ошибка кодирования ответа: %v", err)
	}
}

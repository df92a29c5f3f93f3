package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shannynalayna/grid/internal/cursor"
	"github.com/shannynalayna/grid/internal/models"
	"github.com/shannynalayna/grid/internal/repository"
)

const (
	defaultPageSize = 20  // Размер страницы по умолчанию
	maxPageSize     = 100 // Ограничиваем максимальный размер страницы
)

// QueryService — читающая сторона зеркала. Всегда отвечает через
// версионное хранилище, никогда его не мутирует и не ходит в реестр.
type QueryService interface {
	GetCurrent(ctx context.Context, entityType models.EntityType, recordKey, serviceID string) (*models.VersionedRecord, error)
	GetAsOf(ctx context.Context, entityType models.EntityType, recordKey, serviceID string, blockNum int64) (*models.VersionedRecord, error)
	List(ctx context.Context, entityType models.EntityType, serviceID, pageToken string, pageSize int) ([]models.VersionedRecord, string, error)
}

var _ QueryService = (*queryService)(nil) // Проверка соответствия интерфейсу

type queryService struct {
	repos map[models.EntityType]repository.VersionRepository
}

// NewQueryService создает новый экземпляр читающего сервиса.
func NewQueryService(
	schemaRepo repository.VersionRepository,
	propertyRepo repository.VersionRepository,
	orgRepo repository.VersionRepository,
) QueryService {
	return &queryService{
		repos: map[models.EntityType]repository.VersionRepository{
			models.EntityTypeSchema:             schemaRepo,
			models.EntityTypePropertyDefinition: propertyRepo,
			models.EntityTypeOrganization:       orgRepo,
		},
	}
}

func (s *queryService) repoFor(entityType models.EntityType) (repository.VersionRepository, error) {
	repo, ok := s.repos[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	return repo, nil
}

// GetCurrent возвращает текущую версию записи или ErrQueryNotFound.
func (s *queryService) GetCurrent(
	ctx context.Context,
	entityType models.EntityType,
	recordKey, serviceID string,
) (*models.VersionedRecord, error) {
	repo, err := s.repoFor(entityType)
	if err != nil {
		return nil, err
	}

	record, err := repo.GetCurrent(ctx, recordKey, serviceID)
	if err != nil {
		return nil, s.mapReadErr(entityType, recordKey, err)
	}
	return record, nil
}

// GetAsOf возвращает версию записи, действовавшую на блоке blockNum,
// или ErrQueryNotFound, если запись на этой высоте не существовала.
func (s *queryService) GetAsOf(
	ctx context.Context,
	entityType models.EntityType,
	recordKey, serviceID string,
	blockNum int64,
) (*models.VersionedRecord, error) {
	repo, err := s.repoFor(entityType)
	if err != nil {
		return nil, err
	}

	record, err := repo.GetAsOf(ctx, recordKey, serviceID, blockNum)
	if err != nil {
		return nil, s.mapReadErr(entityType, recordKey, err)
	}
	return record, nil
}

// List возвращает страницу текущих версий в порядке возрастания record_key
// и токен продолжения (пустой на последней странице).
func (s *queryService) List(
	ctx context.Context,
	entityType models.EntityType,
	serviceID, pageToken string,
	pageSize int,
) ([]models.VersionedRecord, string, error) {
	repo, err := s.repoFor(entityType)
	if err != nil {
		return nil, "", err
	}

	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	// Токен привязан к фильтру: смена типа сущности или партиции его инвалидирует
	filter := string(entityType) + "|" + serviceID

	afterKey := ""
	if pageToken != "" {
		c, decodeErr := cursor.Decode(pageToken)
		if decodeErr != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidPageToken, decodeErr)
		}
		if validateErr := cursor.ValidateFilterHash(c, filter); validateErr != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidPageToken, validateErr)
		}
		afterKey = c.AfterKey
	}

	// Запрашиваем на одну запись больше, чтобы не выпускать токен
	// на ровно последнюю страницу
	records, err := repo.ListCurrent(ctx, serviceID, afterKey, pageSize+1)
	if err != nil {
		log.Printf("[QueryService] Ошибка получения списка %s (after='%s'): %v", entityType, afterKey, err)
		return nil, "", fmt.Errorf("%w: ошибка чтения списка", ErrStorageUnavailable)
	}

	nextPageToken := ""
	if len(records) > pageSize {
		records = records[:pageSize]
		token, encodeErr := cursor.Encode(cursor.New(records[len(records)-1].RecordKey, filter))
		if encodeErr != nil {
			return nil, "", fmt.Errorf("ошибка выпуска токена пагинации: %w", encodeErr)
		}
		nextPageToken = token
	}

	return records, nextPageToken, nil
}

// mapReadErr переводит ошибки хранилища в ошибки сервисного слоя:
// отсутствие записи — это "не найдено", все остальное — временная
// недоступность (читающая сторона не повторяет запросы сама).
func (s *queryService) mapReadErr(entityType models.EntityType, recordKey string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrQueryNotFound
	}
	log.Printf("[QueryService] Ошибка чтения %s '%s': %v", entityType, recordKey, err)
	return fmt.Errorf("%w: ошибка чтения записи", ErrStorageUnavailable)
}

// Кастомные ошибки читающего сервиса.
var (
	ErrQueryNotFound    = errors.New("запись не найдена")
	ErrInvalidPageToken = errors.New("некорректный токен пагинации")
)

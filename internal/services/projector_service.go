package services

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shannynalayna/grid/internal/models"
	"github.com/shannynalayna/grid/internal/repository"
)

// ProjectorService транслирует change-set'ы реестра в операции над
// версионным хранилищем. Один change-set — одна транзакция: переход
// родителя и всех его дочерних записей либо применяется целиком,
// либо не применяется вовсе.
type ProjectorService interface {
	Apply(ctx context.Context, cs *models.ChangeSet) error
	Rollback(ctx context.Context, revertToBlock int64) error
}

var _ ProjectorService = (*projectorService)(nil) // Проверка соответствия интерфейсу

type projectorService struct {
	db             *sqlx.DB
	schemaRepo     repository.VersionRepository
	propertyRepo   repository.VersionRepository
	orgRepo        repository.VersionRepository
	watermarkRepo  repository.WatermarkRepository
	storageTimeout time.Duration
}

// NewProjectorService создает новый экземпляр проектора.
func NewProjectorService(
	db *sqlx.DB,
	schemaRepo repository.VersionRepository,
	propertyRepo repository.VersionRepository,
	orgRepo repository.VersionRepository,
	watermarkRepo repository.WatermarkRepository,
	storageTimeout time.Duration,
) ProjectorService {
	return &projectorService{
		db:             db,
		schemaRepo:     schemaRepo,
		propertyRepo:   propertyRepo,
		orgRepo:        orgRepo,
		watermarkRepo:  watermarkRepo,
		storageTimeout: storageTimeout,
	}
}

// Apply применяет один change-set в одной транзакции вместе с продвижением
// watermark'а потока. Повторная или устаревшая доставка возвращает
// ErrStaleUpdate и не меняет состояние хранилища.
func (s *projectorService) Apply(ctx context.Context, cs *models.ChangeSet) error {
	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapStorageErr(fmt.Errorf("ошибка открытия транзакции: %w", err))
	}

	if err = s.applyTx(ctx, tx, cs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[Projector] Ошибка отката транзакции для '%s': %v", cs.RecordKey, rbErr)
		}
		if errors.Is(err, ErrStaleUpdate) {
			return err // Состояние не тронуто, наверх уходит маркер пропуска
		}
		return wrapStorageErr(err)
	}

	if err = tx.Commit(); err != nil {
		return wrapStorageErr(fmt.Errorf("ошибка фиксации транзакции: %w", err))
	}

	log.Printf("[Projector] Применен change-set '%s' (%s, блок %d, событие %s)",
		cs.RecordKey, cs.EntityType, cs.BlockNum, cs.EventID)
	return nil
}

func (s *projectorService) applyTx(ctx context.Context, tx *sqlx.Tx, cs *models.ChangeSet) error {
	switch cs.EntityType {
	case models.EntityTypeSchema:
		if err := s.applySchema(ctx, tx, cs); err != nil {
			return err
		}
	case models.EntityTypeOrganization:
		if err := s.applyOrganization(ctx, tx, cs); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEntityType, cs.EntityType)
	}

	return s.watermarkRepo.Set(ctx, tx, models.StreamName(cs.EntityType, cs.ServiceID), cs.BlockNum)
}

// supersede выполняет стандартный переход версии: закрывает текущую
// (если есть) и открывает новую тем же блоком. Возвращает закрытую
// предыдущую версию или nil, если запись открывается впервые.
func (s *projectorService) supersede(
	ctx context.Context,
	tx *sqlx.Tx,
	repo repository.VersionRepository,
	cs *models.ChangeSet,
) (*models.VersionedRecord, error) {
	prev, err := repo.GetCurrentForUpdate(ctx, tx, cs.RecordKey, cs.ServiceID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if prev != nil {
		if cs.BlockNum <= prev.StartBlockNum {
			log.Printf("[Projector] Устаревший change-set '%s' (событие %s): блок %d не больше текущего %d",
				cs.RecordKey, cs.EventID, cs.BlockNum, prev.StartBlockNum)
			return nil, ErrStaleUpdate
		}
		if err = repo.CloseCurrent(ctx, tx, cs.RecordKey, cs.ServiceID, cs.BlockNum); err != nil {
			return nil, err
		}
	}

	_, err = repo.Open(ctx, tx, &models.NewVersionedRecord{
		RecordKey:     cs.RecordKey,
		ServiceID:     cs.ServiceID,
		StartBlockNum: cs.BlockNum,
		Payload:       cs.Payload,
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

func (s *projectorService) applySchema(ctx context.Context, tx *sqlx.Tx, cs *models.ChangeSet) error {
	var payload models.SchemaPayload
	if err := json.Unmarshal(cs.Payload, &payload); err != nil {
		return fmt.Errorf("ошибка декодирования payload схемы '%s': %w", cs.RecordKey, err)
	}

	prev, err := s.supersede(ctx, tx, s.schemaRepo, cs)
	if err != nil {
		return err
	}

	var oldProps []models.PropertyDefinition
	if prev != nil {
		var oldPayload models.SchemaPayload
		if err = json.Unmarshal(prev.Payload, &oldPayload); err != nil {
			return fmt.Errorf("ошибка декодирования payload предыдущей версии схемы '%s': %w", cs.RecordKey, err)
		}
		oldProps = oldPayload.Properties
	}

	return s.applyProperties(ctx, tx, cs, payload.Properties, oldProps)
}

// applyProperties переводит дочерние записи свойств схемы в той же
// транзакции: обновленные и новые открываются блоком родителя, а свойства,
// отсутствующие в новой версии, закрываются без реоткрытия.
func (s *projectorService) applyProperties(
	ctx context.Context,
	tx *sqlx.Tx,
	cs *models.ChangeSet,
	newProps, oldProps []models.PropertyDefinition,
) error {
	superseded := make(map[string]struct{}, len(oldProps))
	for _, prop := range oldProps {
		superseded[prop.Name] = struct{}{}
	}

	for _, prop := range newProps {
		propPayload, err := json.Marshal(prop)
		if err != nil {
			return fmt.Errorf("ошибка сериализации свойства '%s': %w", prop.Name, err)
		}

		key := models.PropertyRecordKey(cs.RecordKey, prop.Name)
		if _, existed := superseded[prop.Name]; existed {
			if err = s.propertyRepo.CloseCurrent(ctx, tx, key, cs.ServiceID, cs.BlockNum); err != nil {
				return err
			}
			delete(superseded, prop.Name)
		}

		_, err = s.propertyRepo.Open(ctx, tx, &models.NewVersionedRecord{
			RecordKey:     key,
			ServiceID:     cs.ServiceID,
			StartBlockNum: cs.BlockNum,
			Payload:       propPayload,
		})
		if err != nil {
			return err
		}
	}

	// Удаление-по-умолчанию: свойство исчезло из новой версии схемы
	for name := range superseded {
		key := models.PropertyRecordKey(cs.RecordKey, name)
		if err := s.propertyRepo.CloseCurrent(ctx, tx, key, cs.ServiceID, cs.BlockNum); err != nil {
			return err
		}
		log.Printf("[Projector] Свойство '%s' удалено из схемы '%s' на блоке %d", name, cs.RecordKey, cs.BlockNum)
	}
	return nil
}

func (s *projectorService) applyOrganization(ctx context.Context, tx *sqlx.Tx, cs *models.ChangeSet) error {
	// Декодируем для проверки формы payload, организация — плоская сущность
	var payload models.OrganizationPayload
	if err := json.Unmarshal(cs.Payload, &payload); err != nil {
		return fmt.Errorf("ошибка декодирования payload организации '%s': %w", cs.RecordKey, err)
	}

	_, err := s.supersede(ctx, tx, s.orgRepo, cs)
	return err
}

// Rollback откатывает зеркало до блока revertToBlock: версии, открытые на
// этом блоке и позже, удаляются, а версии, закрытые ровно на нем,
// реоткрываются. Все таблицы и watermark'и — в одной транзакции.
func (s *projectorService) Rollback(ctx context.Context, revertToBlock int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	log.Printf("[Projector] Откат зеркала до блока %d", revertToBlock)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapStorageErr(fmt.Errorf("ошибка открытия транзакции отката: %w", err))
	}

	if err = s.rollbackTx(ctx, tx, revertToBlock); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[Projector] Ошибка отката транзакции rollback: %v", rbErr)
		}
		return wrapStorageErr(err)
	}

	if err = tx.Commit(); err != nil {
		return wrapStorageErr(fmt.Errorf("ошибка фиксации транзакции отката: %w", err))
	}

	log.Printf("[Projector] Откат до блока %d завершен", revertToBlock)
	return nil
}

func (s *projectorService) rollbackTx(ctx context.Context, tx *sqlx.Tx, revertToBlock int64) error {
	// Сначала удаление, затем реоткрытие: иначе реоткрытая версия
	// столкнется с еще не удаленной открытой по уникальному индексу
	for _, repo := range []repository.VersionRepository{s.schemaRepo, s.propertyRepo, s.orgRepo} {
		if _, err := repo.DeleteFrom(ctx, tx, revertToBlock); err != nil {
			return err
		}
		if _, err := repo.ReopenClosedAt(ctx, tx, revertToBlock); err != nil {
			return err
		}
	}
	return s.watermarkRepo.ClampTo(ctx, tx, revertToBlock)
}

// Класс ошибок PostgreSQL connection_exception.
const pgConnectionExceptionClass = pq.ErrorClass("08")

// wrapStorageErr помечает временные сбои хранилища (таймауты, обрывы
// соединения) как ErrStorageUnavailable, чтобы конвейер мог отличить
// их от логической ошибки.
func wrapStorageErr(err error) error {
	if isTransientStorageErr(err) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}

func isTransientStorageErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pq.Error
	return errors.As(err, &pgErr) && pgErr.Code.Class() == pgConnectionExceptionClass
}

// Кастомные ошибки проектора.
var (
	ErrStaleUpdate        = errors.New("устаревший или повторный change-set")
	ErrUnknownEntityType  = errors.New("неизвестный тип сущности")
	ErrStorageUnavailable = errors.New("хранилище временно недоступно")
)

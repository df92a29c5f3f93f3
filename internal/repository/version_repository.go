package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shannynalayna/grid/internal/models"
)

// Код ошибки PostgreSQL "unique_violation".
const pgUniqueViolationCode = pq.ErrorCode("23505")

// Имена версионных таблиц. Имя подставляется в запросы только из этого
// закрытого списка (конструкторами ниже), пользовательский ввод в него
// не попадает.
const (
	schemaVersionsTable             = "schema_versions"
	propertyDefinitionVersionsTable = "property_definition_versions"
	organizationVersionsTable       = "organization_versions"
)

// VersionRepository определяет низкоуровневые операции над версионными
// записями одной сущности. Семантики сущности репозиторий не знает:
// payload для него непрозрачен.
//
// Операции записи принимают sqlx.ExtContext, чтобы вызывающий слой мог
// объединить close+open (и переход родитель+дети целиком) в одну транзакцию.
type VersionRepository interface {
	Open(ctx context.Context, ext sqlx.ExtContext, rec *models.NewVersionedRecord) (int64, error)
	CloseCurrent(ctx context.Context, ext sqlx.ExtContext, recordKey, serviceID string, endBlockNum int64) error
	GetCurrent(ctx context.Context, recordKey, serviceID string) (*models.VersionedRecord, error)
	GetCurrentForUpdate(ctx context.Context, tx *sqlx.Tx, recordKey, serviceID string) (*models.VersionedRecord, error)
	GetAsOf(ctx context.Context, recordKey, serviceID string, blockNum int64) (*models.VersionedRecord, error)
	ListCurrent(ctx context.Context, serviceID, afterKey string, limit int) ([]models.VersionedRecord, error)
	DeleteFrom(ctx context.Context, ext sqlx.ExtContext, blockNum int64) (int64, error)
	ReopenClosedAt(ctx context.Context, ext sqlx.ExtContext, blockNum int64) (int64, error)
}

// postgresVersionRepository реализует VersionRepository для PostgreSQL.
// Один экземпляр обслуживает одну версионную таблицу.
type postgresVersionRepository struct {
	db    *sqlx.DB
	table string

	// Запросы собираются один раз в конструкторе.
	queryOpen         string
	querySelectOpen   string
	queryCloseByID    string
	queryGetCurrent   string
	queryGetForUpdate string
	queryGetAsOf      string
	queryListCurrent  string
	queryDeleteFrom   string
	queryReopen       string
}

// NewPostgresSchemaVersionRepository создает репозиторий версий схем.
func NewPostgresSchemaVersionRepository(db *sqlx.DB) VersionRepository {
	return newPostgresVersionRepository(db, schemaVersionsTable)
}

// NewPostgresPropertyDefinitionVersionRepository создает репозиторий версий
// определений свойств (дочерние записи схем).
func NewPostgresPropertyDefinitionVersionRepository(db *sqlx.DB) VersionRepository {
	return newPostgresVersionRepository(db, propertyDefinitionVersionsTable)
}

// NewPostgresOrganizationVersionRepository создает репозиторий версий организаций.
func NewPostgresOrganizationVersionRepository(db *sqlx.DB) VersionRepository {
	return newPostgresVersionRepository(db, organizationVersionsTable)
}

func newPostgresVersionRepository(db *sqlx.DB, table string) *postgresVersionRepository {
	return &postgresVersionRepository{
		db:    db,
		table: table,
		queryOpen: fmt.Sprintf(
			`INSERT INTO %s (record_key, service_id, start_block_num, end_block_num, payload)`+
				` VALUES ($1, $2, $3, $4, $5) RETURNING id`, table),
		querySelectOpen: fmt.Sprintf(
			`SELECT id, start_block_num FROM %s`+
				` WHERE record_key=$1 AND service_id=$2 AND end_block_num=$3 FOR UPDATE`, table),
		queryCloseByID: fmt.Sprintf(
			`UPDATE %s SET end_block_num=$1 WHERE id=$2`, table),
		queryGetCurrent: fmt.Sprintf(
			`SELECT id, record_key, service_id, start_block_num, end_block_num, payload FROM %s`+
				` WHERE record_key=$1 AND service_id=$2 AND end_block_num=$3`, table),
		queryGetForUpdate: fmt.Sprintf(
			`SELECT id, record_key, service_id, start_block_num, end_block_num, payload FROM %s`+
				` WHERE record_key=$1 AND service_id=$2 AND end_block_num=$3 FOR UPDATE`, table),
		queryGetAsOf: fmt.Sprintf(
			`SELECT id, record_key, service_id, start_block_num, end_block_num, payload FROM %s`+
				` WHERE record_key=$1 AND service_id=$2 AND start_block_num<=$3 AND end_block_num>$3`, table),
		queryListCurrent: fmt.Sprintf(
			`SELECT id, record_key, service_id, start_block_num, end_block_num, payload FROM %s`+
				` WHERE end_block_num=$1 AND service_id=$2 AND record_key>$3`+
				` ORDER BY record_key ASC LIMIT $4`, table),
		queryDeleteFrom: fmt.Sprintf(
			`DELETE FROM %s WHERE start_block_num>=$1`, table),
		queryReopen: fmt.Sprintf(
			`UPDATE %s SET end_block_num=$1 WHERE end_block_num=$2`, table),
	}
}

// Open открывает новую версию записи (end_block_num = MaxBlockNum).
// Если открытая версия для (record_key, service_id) уже существует,
// частичный уникальный индекс превращает попытку в ErrConflict.
func (r *postgresVersionRepository) Open(
	ctx context.Context,
	ext sqlx.ExtContext,
	rec *models.NewVersionedRecord,
) (int64, error) {
	var id int64
	err := ext.QueryRowxContext(ctx, r.queryOpen,
		rec.RecordKey, rec.ServiceID, rec.StartBlockNum, models.MaxBlockNum, rec.Payload,
	).Scan(&id)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			log.Printf("[VersionRepo:%s] Попытка второго открытия версии '%s' (service_id='%s')",
				r.table, rec.RecordKey, rec.ServiceID)
			return 0, fmt.Errorf("открытая версия '%s' уже существует: %w", rec.RecordKey, ErrConflict)
		}
		log.Printf("[VersionRepo:%s] Ошибка открытия версии '%s': %v", r.table, rec.RecordKey, err)
		return 0, fmt.Errorf("ошибка выполнения запроса на открытие версии: %w", err)
	}

	log.Printf("[VersionRepo:%s] Открыта версия '%s' (ID: %d) с блока %d",
		r.table, rec.RecordKey, id, rec.StartBlockNum)
	return id, nil
}

// CloseCurrent закрывает открытую версию записи, устанавливая end_block_num.
// Возвращает ErrNoOpenVersion, если открытой версии нет, и ErrInvalidRange,
// если endBlockNum не больше start_block_num открытой версии.
func (r *postgresVersionRepository) CloseCurrent(
	ctx context.Context,
	ext sqlx.ExtContext,
	recordKey, serviceID string,
	endBlockNum int64,
) error {
	var (
		id            int64
		startBlockNum int64
	)
	err := ext.QueryRowxContext(ctx, r.querySelectOpen,
		recordKey, serviceID, models.MaxBlockNum,
	).Scan(&id, &startBlockNum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[VersionRepo:%s] Нет открытой версии '%s' для закрытия", r.table, recordKey)
			return ErrNoOpenVersion
		}
		log.Printf("[VersionRepo:%s] Ошибка поиска открытой версии '%s': %v", r.table, recordKey, err)
		return fmt.Errorf("ошибка выполнения запроса на поиск открытой версии: %w", err)
	}

	if endBlockNum <= startBlockNum {
		log.Printf("[VersionRepo:%s] Некорректное закрытие '%s': блок %d <= start %d",
			r.table, recordKey, endBlockNum, startBlockNum)
		return fmt.Errorf("закрывающий блок %d не больше открывающего %d: %w",
			endBlockNum, startBlockNum, ErrInvalidRange)
	}

	if _, err = ext.ExecContext(ctx, r.queryCloseByID, endBlockNum, id); err != nil {
		log.Printf("[VersionRepo:%s] Ошибка закрытия версии '%s' (ID: %d): %v", r.table, recordKey, id, err)
		return fmt.Errorf("ошибка выполнения запроса на закрытие версии: %w", err)
	}

	log.Printf("[VersionRepo:%s] Версия '%s' (ID: %d) закрыта блоком %d", r.table, recordKey, id, endBlockNum)
	return nil
}

// GetCurrent возвращает открытую версию записи или ErrNotFound.
func (r *postgresVersionRepository) GetCurrent(
	ctx context.Context,
	recordKey, serviceID string,
) (*models.VersionedRecord, error) {
	var record models.VersionedRecord
	err := r.db.GetContext(ctx, &record, r.queryGetCurrent, recordKey, serviceID, models.MaxBlockNum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		log.Printf("[VersionRepo:%s] Ошибка поиска текущей версии '%s': %v", r.table, recordKey, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение текущей версии: %w", err)
	}
	return &record, nil
}

// GetCurrentForUpdate — то же, что GetCurrent, но внутри транзакции и с
// блокировкой строки (FOR UPDATE), чтобы сериализовать переход версии.
func (r *postgresVersionRepository) GetCurrentForUpdate(
	ctx context.Context,
	tx *sqlx.Tx,
	recordKey, serviceID string,
) (*models.VersionedRecord, error) {
	var record models.VersionedRecord
	err := tx.GetContext(ctx, &record, r.queryGetForUpdate, recordKey, serviceID, models.MaxBlockNum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		log.Printf("[VersionRepo:%s] Ошибка поиска текущей версии '%s' (FOR UPDATE): %v", r.table, recordKey, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение текущей версии: %w", err)
	}
	return &record, nil
}

// GetAsOf возвращает версию, интервал действия которой содержит blockNum,
// или ErrNotFound, если на этой высоте запись не существовала.
func (r *postgresVersionRepository) GetAsOf(
	ctx context.Context,
	recordKey, serviceID string,
	blockNum int64,
) (*models.VersionedRecord, error) {
	var record models.VersionedRecord
	err := r.db.GetContext(ctx, &record, r.queryGetAsOf, recordKey, serviceID, blockNum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		log.Printf("[VersionRepo:%s] Ошибка поиска версии '%s' на блоке %d: %v", r.table, recordKey, blockNum, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение исторической версии: %w", err)
	}
	return &record, nil
}

// ListCurrent возвращает страницу открытых версий в порядке возрастания
// record_key, начиная строго после afterKey (keyset-пагинация).
func (r *postgresVersionRepository) ListCurrent(
	ctx context.Context,
	serviceID, afterKey string,
	limit int,
) ([]models.VersionedRecord, error) {
	records := make([]models.VersionedRecord, 0, limit)
	err := r.db.SelectContext(ctx, &records, r.queryListCurrent,
		models.MaxBlockNum, serviceID, afterKey, limit)
	if err != nil {
		log.Printf("[VersionRepo:%s] Ошибка получения списка текущих версий (after='%s'): %v",
			r.table, afterKey, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение списка версий: %w", err)
	}

	log.Printf("[VersionRepo:%s] Получено %d текущих версий (after='%s', limit=%d)",
		r.table, len(records), afterKey, limit)
	return records, nil
}

// DeleteFrom удаляет все версии, открытые на блоке blockNum и позже.
// Первая половина отката форка; вызывается только внутри транзакции отката.
func (r *postgresVersionRepository) DeleteFrom(
	ctx context.Context,
	ext sqlx.ExtContext,
	blockNum int64,
) (int64, error) {
	res, err := ext.ExecContext(ctx, r.queryDeleteFrom, blockNum)
	if err != nil {
		log.Printf("[VersionRepo:%s] Ошибка удаления версий с блока %d: %v", r.table, blockNum, err)
		return 0, fmt.Errorf("ошибка выполнения запроса на удаление версий: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ошибка получения количества удаленных версий: %w", err)
	}

	log.Printf("[VersionRepo:%s] Удалено %d версий с блока %d", r.table, deleted, blockNum)
	return deleted, nil
}

// ReopenClosedAt заново открывает версии, закрытые ровно на блоке blockNum.
// Вторая половина отката форка; выполняется после DeleteFrom в той же
// транзакции, иначе реоткрытие столкнется с уникальным индексом.
func (r *postgresVersionRepository) ReopenClosedAt(
	ctx context.Context,
	ext sqlx.ExtContext,
	blockNum int64,
) (int64, error) {
	res, err := ext.ExecContext(ctx, r.queryReopen, models.MaxBlockNum, blockNum)
	if err != nil {
		log.Printf("[VersionRepo:%s] Ошибка реоткрытия версий, закрытых на блоке %d: %v", r.table, blockNum, err)
		return 0, fmt.Errorf("ошибка выполнения запроса на реоткрытие версий: %w", err)
	}
	reopened, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ошибка получения количества реоткрытых версий: %w", err)
	}

	log.Printf("[VersionRepo:%s] Реоткрыто %d версий, закрытых на блоке %d", r.table, reopened, blockNum)
	return reopened, nil
}

// Кастомные ошибки репозитория версий.
var (
	ErrConflict      = errors.New("открытая версия уже существует")
	ErrNoOpenVersion = errors.New("открытая версия не найдена")
	ErrInvalidRange  = errors.New("некорректный диапазон блоков")
	ErrNotFound      = errors.New("версия записи не найдена")
)

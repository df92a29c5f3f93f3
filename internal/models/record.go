package models

import "encoding/json"

// MaxBlockNum — зарезервированное значение end_block_num, означающее
// "версия всё ещё открыта" (максимальный int64).
const MaxBlockNum int64 = 9223372036854775807

// EntityType — тип сущности реестра. Закрытое множество: проектор
// разбирает payload по типу, неизвестный тип — ошибка.
type EntityType string

const (
	EntityTypeSchema             EntityType = "schema"
	EntityTypePropertyDefinition EntityType = "property_definition"
	EntityTypeOrganization       EntityType = "organization"
)

// VersionedRecord представляет одну версию записи зеркала.
// Интервал действия версии — [start_block_num, end_block_num).
type VersionedRecord struct {
	ID            int64           `db:"id" json:"id"`
	RecordKey     string          `db:"record_key" json:"record_key"`           // Логический ключ сущности (имя схемы, ID организации)
	ServiceID     string          `db:"service_id" json:"service_id"`           // Партиция обслуживания; пустая строка — без партиции
	StartBlockNum int64           `db:"start_block_num" json:"start_block_num"` // Блок, с которого версия действует (включительно)
	EndBlockNum   int64           `db:"end_block_num" json:"end_block_num"`     // Блок, с которого версия перестала действовать (исключительно)
	Payload       json.RawMessage `db:"payload" json:"payload"`                 // Версионируемые атрибуты, непрозрачны для хранилища
}

// IsOpen возвращает true, если эта версия сейчас действует.
func (r *VersionedRecord) IsOpen() bool {
	return r.EndBlockNum == MaxBlockNum
}

// NewVersionedRecord — данные для открытия новой версии записи.
type NewVersionedRecord struct {
	RecordKey     string
	ServiceID     string
	StartBlockNum int64
	Payload       json.RawMessage
}

// StreamName возвращает имя потока синхронизации для пары
// (тип сущности, партиция). Используется как ключ таблицы watermark'ов.
func StreamName(entityType EntityType, serviceID string) string {
	if serviceID == "" {
		return string(entityType)
	}
	return string(entityType) + "::" + serviceID
}

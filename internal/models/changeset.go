package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ChangeSet — одно финализированное изменение состояния сущности,
// привязанное к номеру блока, в котором оно вступило в силу.
// Валидность изменения уже проверена в реестре, зеркало ей доверяет.
type ChangeSet struct {
	EventID    uuid.UUID       `json:"event_id"`
	EntityType EntityType      `json:"entity_type"`
	RecordKey  string          `json:"record_key"`
	ServiceID  string          `json:"service_id,omitempty"`
	BlockNum   int64           `json:"block_num"`
	Payload    json.RawMessage `json:"payload"`
}

// ForkNotification — уведомление о форке: блоки начиная с RevertToBlock
// признаны недействительными, зеркало обязано откатить их версии.
type ForkNotification struct {
	RevertToBlock int64 `json:"revert_to_block"`
}

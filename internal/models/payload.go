package models

// SchemaPayload — версионируемые атрибуты схемы товара.
// Свойства схемы дополнительно версионируются как дочерние записи
// в собственном пространстве ключей (см. PropertyRecordKey).
type SchemaPayload struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Owner       string               `json:"owner"`
	Properties  []PropertyDefinition `json:"properties"`
}

// PropertyDefinition — определение одного свойства схемы.
type PropertyDefinition struct {
	Name             string   `json:"name"`
	DataType         string   `json:"data_type"`
	Required         bool     `json:"required"`
	Description      string   `json:"description"`
	NumberExponent   int32    `json:"number_exponent"`
	EnumOptions      []string `json:"enum_options"`
	StructProperties []string `json:"struct_properties"`
}

// PropertyRecordKey строит логический ключ дочерней записи свойства,
// привязанный к родительской схеме.
func PropertyRecordKey(schemaName, propertyName string) string {
	return schemaName + "/" + propertyName
}

// OrganizationPayload — версионируемые атрибуты организации.
type OrganizationPayload struct {
	OrgID        string          `json:"org_id"`
	Name         string          `json:"name"`
	Locations    []string        `json:"locations"`
	AlternateIDs []AlternateID   `json:"alternate_ids"`
	Metadata     []MetadataEntry `json:"metadata"`
}

// AlternateID — альтернативный идентификатор организации.
type AlternateID struct {
	IDType string `json:"id_type"`
	ID     string `json:"id"`
}

// MetadataEntry — пара ключ-значение метаданных организации.
type MetadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

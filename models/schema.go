package models

// SchemaSlice — представление текущей (или исторической) версии схемы
// в ответах REST API.
type SchemaSlice struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Owner       string                    `json:"owner"`
	ServiceID   string                    `json:"service_id,omitempty"`
	Properties  []PropertyDefinitionSlice `json:"properties"`
}

// PropertyDefinitionSlice — представление свойства схемы в ответах API.
type PropertyDefinitionSlice struct {
	Name             string   `json:"name"`
	DataType         string   `json:"data_type"`
	Required         bool     `json:"required"`
	Description      string   `json:"description"`
	NumberExponent   int32    `json:"number_exponent"`
	EnumOptions      []string `json:"enum_options"`
	StructProperties []string `json:"struct_properties"`
}

// SchemaListSlice — страница списка схем с токеном продолжения.
type SchemaListSlice struct {
	Data          []SchemaSlice `json:"data"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

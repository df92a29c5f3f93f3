package models

// OrganizationSlice — представление версии организации в ответах REST API.
type OrganizationSlice struct {
	OrgID        string                      `json:"org_id"`
	Name         string                      `json:"name"`
	Locations    []string                    `json:"locations"`
	AlternateIDs []AlternateIDSlice          `json:"alternate_ids"`
	Metadata     []OrganizationMetadataSlice `json:"metadata"`
	ServiceID    string                      `json:"service_id,omitempty"`
}

// AlternateIDSlice — альтернативный идентификатор организации.
type AlternateIDSlice struct {
	IDType string `json:"id_type"`
	ID     string `json:"id"`
}

// OrganizationMetadataSlice — пара ключ-значение метаданных организации.
type OrganizationMetadataSlice struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// OrganizationListSlice — страница списка организаций с токеном продолжения.
type OrganizationListSlice struct {
	Data          []OrganizationSlice `json:"data"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

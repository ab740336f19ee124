package models

// ContactRequest creates or updates an address-book entry
type ContactRequest struct {
	Name      string                 `json:"name"`
	Phone     string                 `json:"phone" binding:"required"`
	Tags      []string               `json:"tags"`
	Variables map[string]interface{} `json:"variables"`
	Active    *bool                  `json:"active"`
	OptedOut  *bool                  `json:"opted_out"`
}

// BulkContactsRequest imports many contacts at once; invalid phones are skipped
type BulkContactsRequest struct {
	Contacts []ContactRequest `json:"contacts" binding:"required,min=1,dive"`
	Tags     []string         `json:"tags"`
}

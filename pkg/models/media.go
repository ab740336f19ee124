package models

// Media represents an attachment sent by URL together with a caption
type Media struct {
	Type    string `json:"media_type"` // none, image, video, document
	URL     string `json:"media_url"`
	Caption string `json:"media_caption"`
}

// HasURL reports whether an attachment was provided
func (m Media) HasURL() bool {
	return m.URL != ""
}

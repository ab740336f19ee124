package models

// MenuOptionRequest is one entry of a menu node
type MenuOptionRequest struct {
	Key           string `json:"key" binding:"required"`
	Label         string `json:"label"`
	NextNodeOrder int    `json:"next_node_order"`
}

// AutomationNodeRequest is one step of a flow as sent by the editor
type AutomationNodeRequest struct {
	OrderIndex  int                 `json:"order_index"`
	Type        string              `json:"type" binding:"required"` // message, menu, wait, condition
	Content     string              `json:"content"`
	Options     []MenuOptionRequest `json:"options"`
	WaitSeconds int                 `json:"wait_seconds"`

	Media
}

// AutomationRequest creates or fully replaces an automation
type AutomationRequest struct {
	Name            string                  `json:"name" binding:"required"`
	TriggerType     string                  `json:"trigger_type" binding:"required"` // keyword, menu, always
	TriggerKeywords []string                `json:"trigger_keywords"`
	Active          *bool                   `json:"active"`
	Nodes           []AutomationNodeRequest `json:"nodes" binding:"required,min=1,dive"`
}

// ToggleRequest flips an automation on or off
type ToggleRequest struct {
	Active bool `json:"active"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tenant statuses
const (
	TenantTrial     = "trial"
	TenantActive    = "active"
	TenantSuspended = "suspended"
)

// Gateway connection statuses
const (
	WADisconnected = "disconnected"
	WAConnecting   = "connecting"
	WAConnected    = "connected"
)

// Campaign statuses
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignRunning   = "running"
	CampaignPaused    = "paused"
	CampaignDone      = "done"
	CampaignCancelled = "cancelled"
)

// Why a campaign was paused by the dispatcher. A manual pause leaves it empty.
const (
	PauseWindow    = "window"
	PauseQuota     = "quota"
	PauseSuspended = "suspended"
)

// Per-contact and message log statuses
const (
	DeliveryQueued    = "queued"
	DeliverySending   = "sending"
	DeliverySent      = "sent"
	DeliveryFailed    = "failed"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
)

// Media types accepted by the gateway
const (
	MediaNone     = "none"
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaDocument = "document"
)

// Automation trigger and node types
const (
	TriggerKeyword = "keyword"
	TriggerMenu    = "menu"
	TriggerAlways  = "always"

	NodeMessage   = "message"
	NodeMenu      = "menu"
	NodeWait      = "wait"
	NodeCondition = "condition"
)

// Tenant is one customer account with its own WhatsApp instance and quota.
type Tenant struct {
	ID                    string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name                  string     `gorm:"type:varchar(255);not null" json:"name"`
	Email                 string     `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Plan                  string     `gorm:"type:varchar(20);default:'trial'" json:"plan"`
	Status                string     `gorm:"type:varchar(20);default:'trial';index" json:"status"`
	BlockReason           string     `gorm:"type:text" json:"block_reason,omitempty"`
	MessagesLimitMonth    int        `json:"messages_limit_month"`
	MessagesSentMonth     int        `json:"messages_sent_month"`
	ContactsLimit         int        `json:"contacts_limit"`
	MinDelaySeconds       int        `json:"min_delay_seconds"`
	WAInstanceID          string     `gorm:"type:varchar(64);index" json:"wa_instance_id"`
	WAStatus              string     `gorm:"type:varchar(20);default:'disconnected'" json:"wa_status"`
	WAPhoneNumber         string     `gorm:"type:varchar(32)" json:"wa_phone_number,omitempty"`
	WAProfileName         string     `gorm:"type:varchar(255)" json:"wa_profile_name,omitempty"`
	WAConnectedAt         *time.Time `json:"wa_connected_at,omitempty"`
	WADisconnectedAt      *time.Time `json:"wa_disconnected_at,omitempty"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	UsageResetAt          *time.Time `json:"usage_reset_at,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Tenant) TableName() string {
	return "tenants"
}

func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.UsageResetAt == nil {
		now := time.Now()
		t.UsageResetAt = &now
	}
	return nil
}

// Contact is an address-book entry owned by a tenant.
type Contact struct {
	ID        string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID  string                      `gorm:"type:varchar(36);not null;uniqueIndex:idx_contact_tenant_phone" json:"tenant_id"`
	Name      string                      `gorm:"type:varchar(255)" json:"name"`
	Phone     string                      `gorm:"type:varchar(32);not null;uniqueIndex:idx_contact_tenant_phone" json:"phone"`
	Tags      datatypes.JSONSlice[string] `json:"tags"`
	Variables datatypes.JSONMap           `json:"variables"`
	Active    bool                        `json:"active"`
	OptedOut  bool                        `json:"opted_out"`
	CreatedAt time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Campaign is one independently dispatchable bulk send.
type Campaign struct {
	ID          string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID    string `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	Name        string `gorm:"type:varchar(255);not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	Message      string `gorm:"type:text" json:"message"`
	MediaType    string `gorm:"type:varchar(20);default:'none'" json:"media_type"`
	MediaURL     string `gorm:"type:text" json:"media_url,omitempty"`
	MediaCaption string `gorm:"type:text" json:"media_caption,omitempty"`

	DelayMinSeconds  int  `json:"delay_min_seconds"`
	DelayMaxSeconds  int  `json:"delay_max_seconds"`
	SendStartHour    int  `json:"send_start_hour"`
	SendEndHour      int  `json:"send_end_hour"`
	SendOnWeekends   bool `json:"send_on_weekends"`
	TypingSimulation bool `json:"typing_simulation"`

	TargetTags        datatypes.JSONSlice[string] `json:"target_tags"`
	RecurrenceType    string                      `gorm:"type:varchar(20);default:'none'" json:"recurrence_type"`
	RecurrenceDays    datatypes.JSONSlice[int]    `json:"recurrence_days"`
	RecurrenceTimes   datatypes.JSONSlice[string] `json:"recurrence_times"`
	RecurrenceEndDate *time.Time                  `json:"recurrence_end_date,omitempty"`

	Status          string `gorm:"type:varchar(20);default:'draft';index" json:"status"`
	PauseReason     string `gorm:"type:varchar(20)" json:"pause_reason,omitempty"`
	ContactsTotal   int    `json:"contacts_total"`
	ContactsSent    int    `json:"contacts_sent"`
	ContactsFailed  int    `json:"contacts_failed"`
	ContactsPending int    `json:"contacts_pending"`

	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	QueueJobID  string     `gorm:"type:varchar(64)" json:"queue_job_id,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// HasMedia reports whether the campaign sends a media message.
func (c *Campaign) HasMedia() bool {
	return c.MediaURL != "" && c.MediaType != "" && c.MediaType != MediaNone
}

// CampaignContact is the snapshot of one recipient inside a campaign queue.
type CampaignContact struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	CampaignID   string     `gorm:"type:varchar(36);not null;index:idx_cc_campaign_status" json:"campaign_id"`
	TenantID     string     `gorm:"type:varchar(36);not null" json:"tenant_id"`
	ContactID    string     `gorm:"type:varchar(36);not null" json:"contact_id"`
	Position     int        `gorm:"not null" json:"position"`
	Status       string     `gorm:"type:varchar(20);default:'queued';index:idx_cc_campaign_status" json:"status"`
	Attempts     int        `json:"attempts"`
	WAMessageID  string     `gorm:"type:varchar(128);index" json:"wa_message_id,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	QueuedAt     time.Time  `json:"queued_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	ReadAt       *time.Time `json:"read_at,omitempty"`

	Contact Contact `gorm:"foreignKey:ContactID" json:"contact"`
}

func (CampaignContact) TableName() string {
	return "campaign_contacts"
}

// Automation is a conversational flow started by an inbound message.
type Automation struct {
	ID              string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID        string                      `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	Name            string                      `gorm:"type:varchar(255);not null" json:"name"`
	TriggerType     string                      `gorm:"type:varchar(20);not null" json:"trigger_type"`
	TriggerKeywords datatypes.JSONSlice[string] `json:"trigger_keywords"`
	Active          bool                        `json:"active"`
	Nodes           []AutomationNode            `gorm:"foreignKey:AutomationID;constraint:OnDelete:CASCADE;" json:"nodes"`
	CreatedAt       time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Automation) TableName() string {
	return "automations"
}

func (a *Automation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// MenuOption is one selectable entry of a menu node.
type MenuOption struct {
	Key           string `json:"key"`
	Label         string `json:"label"`
	NextNodeOrder int    `json:"next_node_order"`
}

type AutomationNode struct {
	ID           string                          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AutomationID string                          `gorm:"type:varchar(36);not null;index" json:"automation_id"`
	OrderIndex   int                             `gorm:"not null" json:"order_index"`
	Type         string                          `gorm:"type:varchar(20);not null" json:"type"`
	Content      string                          `gorm:"type:text" json:"content"`
	MediaType    string                          `gorm:"type:varchar(20)" json:"media_type,omitempty"`
	MediaURL     string                          `gorm:"type:text" json:"media_url,omitempty"`
	MediaCaption string                          `gorm:"type:text" json:"media_caption,omitempty"`
	Options      datatypes.JSONSlice[MenuOption] `json:"options"`
	WaitSeconds  int                             `json:"wait_seconds"`
}

func (AutomationNode) TableName() string {
	return "automation_nodes"
}

func (n *AutomationNode) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// BotSession is the cursor of a suspended flow for one conversation.
type BotSession struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	TenantID         string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_session_tenant_phone" json:"tenant_id"`
	Phone            string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_session_tenant_phone" json:"phone"`
	AutomationID     string    `gorm:"type:varchar(36);not null" json:"automation_id"`
	CurrentNodeIndex int       `json:"current_node_index"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BotSession) TableName() string {
	return "bot_sessions"
}

// MessageLog records one send attempt for reporting.
type MessageLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TenantID     string    `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	CampaignID   string    `gorm:"type:varchar(36);index" json:"campaign_id"`
	ContactID    string    `gorm:"type:varchar(36)" json:"contact_id"`
	Phone        string    `gorm:"type:varchar(32)" json:"phone"`
	Status       string    `gorm:"type:varchar(20);index" json:"status"`
	WAMessageID  string    `gorm:"type:varchar(128);index" json:"wa_message_id,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MessageLog) TableName() string {
	return "message_logs"
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Tenant{},
		&Contact{},
		&Campaign{},
		&CampaignContact{},
		&Automation{},
		&AutomationNode{},
		&BotSession{},
		&MessageLog{},
	}
}

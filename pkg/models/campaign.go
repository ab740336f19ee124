package models

import "time"

// CreateCampaignRequest is the body of POST /api/campaigns. Pointer fields
// distinguish "not sent" from an explicit zero.
type CreateCampaignRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MessageText string `json:"message_text"`
	Media

	DelayMinSeconds  *int  `json:"delay_min_seconds"`
	DelayMaxSeconds  *int  `json:"delay_max_seconds"`
	TypingSimulation *bool `json:"typing_simulation"`
	SendStartHour    *int  `json:"send_start_hour"`
	SendEndHour      *int  `json:"send_end_hour"`
	SendOnWeekends   *bool `json:"send_on_weekends"`

	TargetTags []string `json:"target_tags"`

	ScheduledAt       *time.Time `json:"scheduled_at"`
	RecurrenceType    string     `json:"recurrence_type"` // none, daily, weekly, custom
	RecurrenceDays    []int      `json:"recurrence_days"` // 0 = Sunday
	RecurrenceTimes   []string   `json:"recurrence_times"`
	RecurrenceEndDate string     `json:"recurrence_end_date"` // YYYY-MM-DD or RFC 3339
}

// CreateCampaignResponse lists every campaign materialized from one request
type CreateCampaignResponse struct {
	Created   int         `json:"created"`
	Campaigns interface{} `json:"campaigns"`
}

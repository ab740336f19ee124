package models

// PlanLimit holds the quota preset applied when a tenant changes plan.
type PlanLimit struct {
	MessagesLimitMonth int
	ContactsLimit      int
	MinDelaySeconds    int
}

var PlanLimits = map[string]PlanLimit{
	"trial":      {MessagesLimitMonth: 500, ContactsLimit: 200, MinDelaySeconds: 15},
	"basic":      {MessagesLimitMonth: 1000, ContactsLimit: 500, MinDelaySeconds: 12},
	"pro":        {MessagesLimitMonth: 10000, ContactsLimit: 10000, MinDelaySeconds: 8},
	"enterprise": {MessagesLimitMonth: 99999, ContactsLimit: 999999, MinDelaySeconds: 5},
}

// ApplyPlan copies the plan preset onto the tenant. Unknown plans keep the
// current limits and return false.
func (t *Tenant) ApplyPlan(plan string) bool {
	limit, ok := PlanLimits[plan]
	if !ok {
		return false
	}
	t.Plan = plan
	t.MessagesLimitMonth = limit.MessagesLimitMonth
	t.ContactsLimit = limit.ContactsLimit
	t.MinDelaySeconds = limit.MinDelaySeconds
	return true
}

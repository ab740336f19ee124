package automation

import (
	"strings"

	"zapflow/internal/models"
)

// Resolution is where an inbound message enters a flow.
type Resolution struct {
	Automation *models.Automation
	Graph      *Graph
	// Start is the order index of the first node to execute.
	Start int
	// Resumed is set when an existing session was continued.
	Resumed bool
	// Finished is set when the resumed flow has nothing left to run.
	Finished bool
}

// Resolve picks the automation and entry node for an inbound message.
// automations must be the tenant's active flows in creation order and
// session may be nil. It reports false when nothing should run.
func Resolve(automations []models.Automation, session *models.BotSession, text string) (Resolution, bool) {
	if session != nil {
		for i := range automations {
			a := &automations[i]
			if a.ID != session.AutomationID {
				continue
			}
			return resume(a, session.CurrentNodeIndex, text), true
		}
	}

	for i := range automations {
		a := &automations[i]
		if !triggers(a, text) {
			continue
		}
		g := NewGraph(a.Nodes)
		start, ok := g.First()
		return Resolution{Automation: a, Graph: g, Start: start, Finished: !ok}, true
	}
	return Resolution{}, false
}

func resume(a *models.Automation, current int, text string) Resolution {
	g := NewGraph(a.Nodes)
	res := Resolution{Automation: a, Graph: g, Resumed: true}

	node, ok := g.Node(current)
	if !ok {
		res.Finished = true
		return res
	}

	var next int
	if node.Type == models.NodeMenu {
		next, ok = g.Choose(current, text)
	} else {
		next, ok = g.Next(current)
	}
	res.Start = next
	res.Finished = !ok
	return res
}

func triggers(a *models.Automation, text string) bool {
	switch a.TriggerType {
	case models.TriggerAlways:
		return true
	case models.TriggerKeyword:
		lower := strings.ToLower(text)
		for _, kw := range a.TriggerKeywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

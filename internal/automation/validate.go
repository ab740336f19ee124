package automation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"zapflow/internal/models"
	pkgmodels "zapflow/pkg/models"
)

var (
	ErrInvalidTrigger  = errors.New("invalid trigger type")
	ErrNoKeywords      = errors.New("keyword trigger needs at least one keyword")
	ErrNoNodes         = errors.New("automation needs at least one node")
	ErrInvalidNodeType = errors.New("invalid node type")
	ErrNodeOrder       = errors.New("node order must run from 0 without gaps")
	ErrEmptyNode       = errors.New("message node needs content or media")
	ErrMenuOptions     = errors.New("menu node needs options")
	ErrOptionTarget    = errors.New("menu option points to a missing node")
	ErrWaitSeconds     = errors.New("wait seconds cannot be negative")
)

// FromRequest validates req and builds the automation it describes.
func FromRequest(tenantID string, req pkgmodels.AutomationRequest) (*models.Automation, error) {
	switch req.TriggerType {
	case models.TriggerKeyword, models.TriggerMenu, models.TriggerAlways:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, req.TriggerType)
	}

	var keywords []string
	for _, k := range req.TriggerKeywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	if req.TriggerType == models.TriggerKeyword && len(keywords) == 0 {
		return nil, ErrNoKeywords
	}

	nodes, err := buildNodes(req.Nodes)
	if err != nil {
		return nil, err
	}

	a := &models.Automation{
		TenantID:        tenantID,
		Name:            strings.TrimSpace(req.Name),
		TriggerType:     req.TriggerType,
		TriggerKeywords: keywords,
		Active:          true,
		Nodes:           nodes,
	}
	if req.Active != nil {
		a.Active = *req.Active
	}
	return a, nil
}

func buildNodes(in []pkgmodels.AutomationNodeRequest) ([]models.AutomationNode, error) {
	if len(in) == 0 {
		return nil, ErrNoNodes
	}

	seen := make(map[int]bool, len(in))
	for _, n := range in {
		if n.OrderIndex < 0 || n.OrderIndex >= len(in) || seen[n.OrderIndex] {
			return nil, fmt.Errorf("%w: %d", ErrNodeOrder, n.OrderIndex)
		}
		seen[n.OrderIndex] = true
	}

	out := make([]models.AutomationNode, 0, len(in))
	for _, n := range in {
		node := models.AutomationNode{
			OrderIndex:   n.OrderIndex,
			Type:         n.Type,
			Content:      n.Content,
			MediaURL:     n.URL,
			MediaCaption: n.Caption,
			WaitSeconds:  n.WaitSeconds,
		}
		if n.HasURL() {
			node.MediaType = n.Media.Type
			if node.MediaType == "" || node.MediaType == models.MediaNone {
				node.MediaType = models.MediaImage
			}
		}

		switch n.Type {
		case models.NodeMessage:
			if strings.TrimSpace(n.Content) == "" && !n.HasURL() {
				return nil, fmt.Errorf("%w: node %d", ErrEmptyNode, n.OrderIndex)
			}
		case models.NodeMenu:
			if len(n.Options) == 0 {
				return nil, fmt.Errorf("%w: node %d", ErrMenuOptions, n.OrderIndex)
			}
			for _, o := range n.Options {
				if !seen[o.NextNodeOrder] {
					return nil, fmt.Errorf("%w: node %d option %q", ErrOptionTarget, n.OrderIndex, o.Key)
				}
				node.Options = append(node.Options, models.MenuOption{
					Key:           strings.TrimSpace(o.Key),
					Label:         o.Label,
					NextNodeOrder: o.NextNodeOrder,
				})
			}
		case models.NodeWait:
			if n.WaitSeconds < 0 {
				return nil, fmt.Errorf("%w: node %d", ErrWaitSeconds, n.OrderIndex)
			}
		case models.NodeCondition:
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidNodeType, n.Type)
		}
		out = append(out, node)
	}
	return out, nil
}

// Repair renumbers nodes densely from 0 in their current order, keeping the
// first node of any duplicated index, and rewrites menu targets to the new
// numbering. Options pointing at a node that no longer exists are dropped.
// The second result reports whether anything changed.
func Repair(nodes []models.AutomationNode) ([]models.AutomationNode, bool) {
	sorted := make([]models.AutomationNode, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })

	renumber := make(map[int]int, len(sorted))
	out := make([]models.AutomationNode, 0, len(sorted))
	changed := false
	for _, n := range sorted {
		if _, dup := renumber[n.OrderIndex]; dup {
			changed = true
			continue
		}
		renumber[n.OrderIndex] = len(out)
		if n.OrderIndex != len(out) {
			changed = true
		}
		n.OrderIndex = len(out)
		out = append(out, n)
	}

	for i := range out {
		if len(out[i].Options) == 0 {
			continue
		}
		opts := make([]models.MenuOption, 0, len(out[i].Options))
		for _, opt := range out[i].Options {
			to, ok := renumber[opt.NextNodeOrder]
			if !ok {
				changed = true
				continue
			}
			if to != opt.NextNodeOrder {
				changed = true
			}
			opt.NextNodeOrder = to
			opts = append(opts, opt)
		}
		out[i].Options = opts
	}
	return out, changed
}

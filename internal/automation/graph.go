package automation

import (
	"sort"
	"strings"

	"zapflow/internal/models"
)

// EdgeKind tags how a successor was reached.
type EdgeKind int

const (
	EdgeDefault EdgeKind = iota
	EdgeOption
)

// Edge points from a node to the order index of its successor.
type Edge struct {
	Kind EdgeKind
	Key  string
	To   int
}

// Node is one arena slot of a Graph.
type Node struct {
	models.AutomationNode
	Edges []Edge
}

// Graph holds an automation's nodes keyed by order index with explicit
// successor edges. The default edge of a node points at the next node in
// order; menu options add one option edge per key. An option whose target
// does not exist is dropped so the choice falls back to the default edge.
type Graph struct {
	nodes   []Node
	byOrder map[int]int
}

// NewGraph builds the arena from nodes in any order.
func NewGraph(nodes []models.AutomationNode) *Graph {
	sorted := make([]models.AutomationNode, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })

	g := &Graph{
		nodes:   make([]Node, 0, len(sorted)),
		byOrder: make(map[int]int, len(sorted)),
	}
	for _, n := range sorted {
		if _, dup := g.byOrder[n.OrderIndex]; dup {
			continue
		}
		g.byOrder[n.OrderIndex] = len(g.nodes)
		g.nodes = append(g.nodes, Node{AutomationNode: n})
	}

	for i := range g.nodes {
		n := &g.nodes[i]
		if i+1 < len(g.nodes) {
			n.Edges = append(n.Edges, Edge{Kind: EdgeDefault, To: g.nodes[i+1].OrderIndex})
		}
		if n.Type != models.NodeMenu {
			continue
		}
		for _, opt := range n.Options {
			if _, ok := g.byOrder[opt.NextNodeOrder]; !ok {
				continue
			}
			n.Edges = append(n.Edges, Edge{Kind: EdgeOption, Key: strings.TrimSpace(opt.Key), To: opt.NextNodeOrder})
		}
	}
	return g
}

func (g *Graph) Len() int { return len(g.nodes) }

// First returns the entry node's order index.
func (g *Graph) First() (int, bool) {
	if len(g.nodes) == 0 {
		return 0, false
	}
	return g.nodes[0].OrderIndex, true
}

func (g *Graph) Node(order int) (*Node, bool) {
	i, ok := g.byOrder[order]
	if !ok {
		return nil, false
	}
	return &g.nodes[i], true
}

// Next follows the default edge. It reports false for the last node and for
// unknown indices.
func (g *Graph) Next(order int) (int, bool) {
	n, ok := g.Node(order)
	if !ok {
		return 0, false
	}
	for _, e := range n.Edges {
		if e.Kind == EdgeDefault {
			return e.To, true
		}
	}
	return 0, false
}

// Choose follows the option edge whose key equals reply, falling back to
// the default edge.
func (g *Graph) Choose(order int, reply string) (int, bool) {
	n, ok := g.Node(order)
	if !ok {
		return 0, false
	}
	reply = strings.TrimSpace(reply)
	for _, e := range n.Edges {
		if e.Kind == EdgeOption && e.Key == reply {
			return e.To, true
		}
	}
	return g.Next(order)
}

func (g *Graph) IsLast(order int) bool {
	_, ok := g.Next(order)
	return !ok
}

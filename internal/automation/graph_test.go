package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapflow/internal/models"
)

func menuFlow() []models.AutomationNode {
	return []models.AutomationNode{
		{OrderIndex: 3, Type: models.NodeMessage, Content: "Suporte"},
		{OrderIndex: 0, Type: models.NodeMessage, Content: "Olá!"},
		{OrderIndex: 1, Type: models.NodeMenu, Content: "Escolha:", Options: []models.MenuOption{
			{Key: "1", Label: "Vendas", NextNodeOrder: 2},
			{Key: "2", Label: "Suporte", NextNodeOrder: 3},
			{Key: "9", Label: "Quebrado", NextNodeOrder: 42},
		}},
		{OrderIndex: 2, Type: models.NodeMessage, Content: "Vendas"},
	}
}

func TestGraphOrdersNodesAndLinksDefaults(t *testing.T) {
	g := NewGraph(menuFlow())
	require.Equal(t, 4, g.Len())

	first, ok := g.First()
	require.True(t, ok)
	assert.Equal(t, 0, first)

	next, ok := g.Next(0)
	require.True(t, ok)
	assert.Equal(t, 1, next)

	assert.True(t, g.IsLast(3))
	assert.False(t, g.IsLast(2))

	_, ok = g.Next(7)
	assert.False(t, ok)
}

func TestGraphChoose(t *testing.T) {
	g := NewGraph(menuFlow())

	to, ok := g.Choose(1, " 2 ")
	require.True(t, ok)
	assert.Equal(t, 3, to)

	// unknown reply falls through to the default successor
	to, ok = g.Choose(1, "talvez")
	require.True(t, ok)
	assert.Equal(t, 2, to)

	// an option pointing at a missing node has no edge of its own
	to, ok = g.Choose(1, "9")
	require.True(t, ok)
	assert.Equal(t, 2, to)

	node, ok := g.Node(1)
	require.True(t, ok)
	var options int
	for _, e := range node.Edges {
		if e.Kind == EdgeOption {
			options++
		}
	}
	assert.Equal(t, 2, options)
}

func TestGraphWithGapsInOrder(t *testing.T) {
	g := NewGraph([]models.AutomationNode{
		{OrderIndex: 0, Type: models.NodeMessage},
		{OrderIndex: 5, Type: models.NodeMessage},
	})
	next, ok := g.Next(0)
	require.True(t, ok)
	assert.Equal(t, 5, next)
}

func TestEmptyGraph(t *testing.T) {
	g := NewGraph(nil)
	_, ok := g.First()
	assert.False(t, ok)
}

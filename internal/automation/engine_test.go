package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapflow/internal/models"
	"zapflow/internal/store"
	"zapflow/internal/store/storetest"
	"zapflow/internal/whatsapp"
)

type botMessage struct {
	Phone string
	Text  string
	Media string
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []botMessage
	fail bool
}

func (g *fakeGateway) SendText(ctx context.Context, instance, phone, text string, opts whatsapp.SendOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return "", errors.New("gateway down")
	}
	g.sent = append(g.sent, botMessage{Phone: phone, Text: text})
	return "id", nil
}

func (g *fakeGateway) SendMedia(ctx context.Context, instance, phone, mediaType, url, caption string, opts whatsapp.SendOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, botMessage{Phone: phone, Text: caption, Media: url})
	return "id", nil
}

func (g *fakeGateway) texts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.sent))
	for i, m := range g.sent {
		out[i] = m.Text
	}
	return out
}

type botFixture struct {
	store   *store.Store
	tenant  *models.Tenant
	gateway *fakeGateway
	engine  *Engine
	pauses  []time.Duration
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	s := storetest.New(t)
	f := &botFixture{store: s, tenant: storetest.Tenant(t, s), gateway: &fakeGateway{}}
	f.engine = NewEngine(s, f.gateway)
	f.engine.sleep = func(ctx context.Context, d time.Duration) error {
		f.pauses = append(f.pauses, d)
		return nil
	}
	return f
}

func (f *botFixture) automation(t *testing.T, a models.Automation) *models.Automation {
	t.Helper()
	a.TenantID = f.tenant.ID
	a.Active = true
	require.NoError(t, f.store.CreateAutomation(context.Background(), &a))
	return &a
}

func (f *botFixture) inbound(t *testing.T, text string) {
	t.Helper()
	err := f.engine.HandleInbound(context.Background(), Inbound{
		TenantID: f.tenant.ID,
		Instance: f.tenant.WAInstanceID,
		Phone:    "5511988887777",
		Text:     text,
	})
	require.NoError(t, err)
}

func (f *botFixture) session(t *testing.T) *models.BotSession {
	t.Helper()
	sess, err := f.store.GetSession(context.Background(), f.tenant.ID, "5511988887777")
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	return sess
}

func TestEngineMenuFlow(t *testing.T) {
	f := newBotFixture(t)
	a := f.automation(t, models.Automation{
		Name:            "Atendimento",
		TriggerType:     models.TriggerKeyword,
		TriggerKeywords: []string{"oi"},
		Nodes: []models.AutomationNode{
			{OrderIndex: 0, Type: models.NodeMessage, Content: "Bem-vindo!"},
			{OrderIndex: 1, Type: models.NodeMenu, Content: "Como podemos ajudar?", Options: []models.MenuOption{
				{Key: "1", Label: "Vendas", NextNodeOrder: 2},
				{Key: "2", Label: "Suporte", NextNodeOrder: 3},
			}},
			{OrderIndex: 2, Type: models.NodeMessage, Content: "Um vendedor vai te chamar."},
			{OrderIndex: 3, Type: models.NodeMessage, Content: "Abrimos um chamado."},
		},
	})

	f.inbound(t, "oi")
	assert.Equal(t, []string{
		"Bem-vindo!",
		"Como podemos ajudar?\n\n*1*  Vendas\n*2*  Suporte",
	}, f.gateway.texts())
	require.Len(t, f.pauses, 1)

	sess := f.session(t)
	require.NotNil(t, sess)
	assert.Equal(t, a.ID, sess.AutomationID)
	assert.Equal(t, 1, sess.CurrentNodeIndex)

	f.inbound(t, "2")
	texts := f.gateway.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "Abrimos um chamado.", texts[2])
	// last node sends without a trailing pause
	assert.Len(t, f.pauses, 1)
	assert.Nil(t, f.session(t))
}

func TestEngineWaitNodeSuspendsAndResumes(t *testing.T) {
	f := newBotFixture(t)
	f.automation(t, models.Automation{
		Name:        "Cadastro",
		TriggerType: models.TriggerAlways,
		Nodes: []models.AutomationNode{
			{OrderIndex: 0, Type: models.NodeMessage, Content: "Qual seu nome?"},
			{OrderIndex: 1, Type: models.NodeWait, WaitSeconds: 60},
			{OrderIndex: 2, Type: models.NodeCondition},
			{OrderIndex: 3, Type: models.NodeMessage, Content: "Obrigado!"},
		},
	})

	f.inbound(t, "olá")
	assert.Equal(t, []string{"Qual seu nome?"}, f.gateway.texts())
	sess := f.session(t)
	require.NotNil(t, sess)
	assert.Equal(t, 1, sess.CurrentNodeIndex)

	f.inbound(t, "Maria")
	assert.Equal(t, []string{"Qual seu nome?", "Obrigado!"}, f.gateway.texts())
	assert.Nil(t, f.session(t))
}

func TestEngineDropsUnmatchedMessages(t *testing.T) {
	f := newBotFixture(t)
	f.automation(t, models.Automation{
		Name:            "Preço",
		TriggerType:     models.TriggerKeyword,
		TriggerKeywords: []string{"preço"},
		Nodes:           []models.AutomationNode{{OrderIndex: 0, Type: models.NodeMessage, Content: "R$ 10"}},
	})

	f.inbound(t, "bom dia")
	assert.Empty(t, f.gateway.texts())
	assert.Nil(t, f.session(t))
}

func TestEngineSendFailureDoesNotStopFlow(t *testing.T) {
	f := newBotFixture(t)
	f.gateway.fail = true
	f.automation(t, models.Automation{
		Name:        "Menu",
		TriggerType: models.TriggerAlways,
		Nodes: []models.AutomationNode{
			{OrderIndex: 0, Type: models.NodeMessage, Content: "a"},
			{OrderIndex: 1, Type: models.NodeMenu, Content: "b", Options: []models.MenuOption{{Key: "1", Label: "x", NextNodeOrder: 0}}},
		},
	})

	f.inbound(t, "oi")
	sess := f.session(t)
	require.NotNil(t, sess)
	assert.Equal(t, 1, sess.CurrentNodeIndex)
}

func TestEngineMediaNodeUsesCaption(t *testing.T) {
	f := newBotFixture(t)
	f.automation(t, models.Automation{
		Name:        "Catálogo",
		TriggerType: models.TriggerAlways,
		Nodes: []models.AutomationNode{
			{OrderIndex: 0, Type: models.NodeMessage, Content: "Nosso catálogo", MediaType: models.MediaDocument, MediaURL: "https://cdn.example.com/c.pdf"},
		},
	})

	f.inbound(t, "oi")
	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, "https://cdn.example.com/c.pdf", f.gateway.sent[0].Media)
	assert.Equal(t, "Nosso catálogo", f.gateway.sent[0].Text)
	assert.Nil(t, f.session(t))
}

func TestEngineStaleSessionIsCleared(t *testing.T) {
	f := newBotFixture(t)
	a := f.automation(t, models.Automation{
		Name:            "Curto",
		TriggerType:     models.TriggerKeyword,
		TriggerKeywords: []string{"zzz"},
		Nodes:           []models.AutomationNode{{OrderIndex: 0, Type: models.NodeMessage, Content: "x"}},
	})
	require.NoError(t, f.store.UpsertSession(context.Background(), &models.BotSession{
		TenantID: f.tenant.ID, Phone: "5511988887777", AutomationID: a.ID, CurrentNodeIndex: 7,
	}))

	f.inbound(t, "oi")
	assert.Empty(t, f.gateway.texts())
	assert.Nil(t, f.session(t))
}

func TestSerializerOrdersPerKey(t *testing.T) {
	s := NewSerializer()
	var (
		mu  sync.Mutex
		got = map[string][]int{}
	)
	for i := 0; i < 20; i++ {
		i := i
		key := ConversationKey("t", []string{"a", "b"}[i%2])
		s.Submit(key, func() {
			if i%5 == 0 {
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			got[key] = append(got[key], i)
			mu.Unlock()
		})
	}
	s.Submit("boom", func() { panic("handler bug") })
	s.Wait()

	assert.Equal(t, []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, got["t:a"])
	assert.Equal(t, []int{1, 3, 5, 7, 9, 11, 13, 15, 17, 19}, got["t:b"])
}

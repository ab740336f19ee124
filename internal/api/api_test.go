package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapflow/internal/campaign"
	"zapflow/internal/models"
	"zapflow/internal/phone"
	"zapflow/internal/queue"
	"zapflow/internal/store"
	"zapflow/internal/store/storetest"
	"zapflow/internal/whatsapp"
)

type fakeInstances struct {
	created   []string
	loggedOut []string
	state     string
	missing   bool
}

func (f *fakeInstances) CreateInstance(ctx context.Context, instance string) error {
	f.created = append(f.created, instance)
	f.missing = false
	return nil
}

func (f *fakeInstances) Connect(ctx context.Context, instance string) (*whatsapp.QRCode, error) {
	if f.missing {
		return nil, &whatsapp.APIError{Status: http.StatusNotFound, Body: "instance not found"}
	}
	return &whatsapp.QRCode{Base64: "data:image/png;base64,AAA"}, nil
}

func (f *fakeInstances) ConnectionState(ctx context.Context, instance string) (string, error) {
	return f.state, nil
}

func (f *fakeInstances) Logout(ctx context.Context, instance string) error {
	f.loggedOut = append(f.loggedOut, instance)
	return nil
}

type server struct {
	store     *store.Store
	tenant    *models.Tenant
	instances *fakeInstances
	router    *gin.Engine
	healthy   error
}

func newServer(t *testing.T, mutate ...func(*models.Tenant)) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := storetest.New(t)
	srv := &server{store: s, tenant: storetest.Tenant(t, s, mutate...), instances: &fakeInstances{state: "open"}}

	svc := campaign.NewService(s, queue.NewMemoryBroker(), time.UTC)
	srv.router = gin.New()
	Register(srv.router, Routes{
		Tenants:     s,
		Campaigns:   NewCampaignHandler(svc),
		Automations: NewAutomationHandler(s),
		Contacts:    NewContactHandler(s),
		WhatsApp:    NewWhatsAppHandler(srv.instances, s),
		Dashboard: NewDashboardHandler(s, map[string]HealthCheck{
			"queue": func(ctx context.Context) error { return srv.healthy },
		}),
		Webhook: func(c *gin.Context) { c.Status(http.StatusOK) },
	})
	return srv
}

func (s *server) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantHeader, s.tenant.ID)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestTenantHeaderRequired(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
	req.Header.Set(TenantHeader, "nope")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestContactsCRUD(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/contacts", `{"name":"Ana","phone":"+55 (11) 98888-7777","tags":["vip"," vip ",""]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Contact
	decode(t, w, &created)
	assert.Equal(t, phone.Normalize("+55 (11) 98888-7777"), created.Phone)
	assert.Equal(t, []string{"vip"}, []string(created.Tags))
	assert.True(t, created.Active)

	w = s.do(t, http.MethodPost, "/api/contacts", `{"name":"Ana de novo","phone":"5511988887777"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/contacts", `{"name":"X","phone":"123"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/contacts/"+created.ID, `{"name":"Ana Maria","phone":"5511988887777","opted_out":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Contact
	decode(t, w, &updated)
	assert.Equal(t, "Ana Maria", updated.Name)
	assert.True(t, updated.OptedOut)
	assert.Equal(t, []string{"vip"}, []string(updated.Tags))

	w = s.do(t, http.MethodGet, "/api/contacts?tag=VIP", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Contact
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = s.do(t, http.MethodDelete, "/api/contacts/"+created.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodDelete, "/api/contacts/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportContacts(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/contacts/import", `{"tags":["lista-março"],"contacts":[
		{"name":"A","phone":"5521977776666"},
		{"name":"B","phone":"+55 21 97777-6666"},
		{"name":"C","phone":"abc"},
		{"name":"D","phone":"5531966665555"}
	]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res map[string]int
	decode(t, w, &res)
	assert.Equal(t, map[string]int{"created": 2, "invalid": 1, "duplicates": 1}, res)
}

func TestContactsLimit(t *testing.T) {
	s := newServer(t, func(tn *models.Tenant) { tn.ContactsLimit = 1 })
	storetest.Contacts(t, s.store, s.tenant.ID, 1)

	w := s.do(t, http.MethodPost, "/api/contacts", `{"name":"Ana","phone":"5521977776666"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCampaignLifecycle(t *testing.T) {
	s := newServer(t)
	storetest.Contacts(t, s.store, s.tenant.ID, 2)

	w := s.do(t, http.MethodPost, "/api/campaigns", `{"name":"Promo","message_text":"Oi {nome}"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Created   int               `json:"created"`
		Campaigns []models.Campaign `json:"campaigns"`
	}
	decode(t, w, &created)
	require.Equal(t, 1, created.Created)
	id := created.Campaigns[0].ID

	w = s.do(t, http.MethodPost, "/api/campaigns/"+id+"/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/campaigns/"+id+"/start", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/campaigns/"+id+"/pause", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/campaigns/"+id+"/report", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report campaign.Report
	decode(t, w, &report)
	assert.Equal(t, models.CampaignPaused, report.Campaign.Status)
	assert.Equal(t, 2, report.Summary.Pending)

	w = s.do(t, http.MethodPost, "/api/campaigns/"+id+"/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/campaigns?status=cancelled", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Campaign
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = s.do(t, http.MethodGet, "/api/campaigns/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCampaignValidationErrors(t *testing.T) {
	s := newServer(t)
	storetest.Contacts(t, s.store, s.tenant.ID, 1)

	w := s.do(t, http.MethodPost, "/api/campaigns", `{"name":"Promo"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/campaigns", `{"name":"Promo","message_text":"x","recurrence_type":"hourly"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/campaigns/calendar?month=13", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCampaignStartNeedsConnection(t *testing.T) {
	s := newServer(t, func(tn *models.Tenant) { tn.WAStatus = models.WADisconnected })
	storetest.Contacts(t, s.store, s.tenant.ID, 1)

	w := s.do(t, http.MethodPost, "/api/campaigns", `{"name":"Promo","message_text":"x"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Campaigns []models.Campaign `json:"campaigns"`
	}
	decode(t, w, &created)

	w = s.do(t, http.MethodPost, "/api/campaigns/"+created.Campaigns[0].ID+"/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCampaignStartOverQuotaConflicts(t *testing.T) {
	s := newServer(t, func(tn *models.Tenant) {
		tn.MessagesLimitMonth = 10
		tn.MessagesSentMonth = 10
	})
	storetest.Contacts(t, s.store, s.tenant.ID, 1)

	w := s.do(t, http.MethodPost, "/api/campaigns", `{"name":"Promo","message_text":"x"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Campaigns []models.Campaign `json:"campaigns"`
	}
	decode(t, w, &created)

	w = s.do(t, http.MethodPost, "/api/campaigns/"+created.Campaigns[0].ID+"/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "monthly message limit reached")
}

func TestSuspendedTenantIsPaymentRequired(t *testing.T) {
	s := newServer(t, func(tn *models.Tenant) { tn.Status = models.TenantSuspended })
	w := s.do(t, http.MethodPost, "/api/campaigns", `{"name":"Promo","message_text":"x"}`)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestAutomationsCRUD(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/automations", `{"name":"Menu","trigger_type":"keyword","trigger_keywords":["oi"],
		"nodes":[{"order_index":0,"type":"menu","content":"Escolha","options":[{"key":"1","label":"x","next_node_order":3}]}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/automations", `{"name":"Menu","trigger_type":"keyword","trigger_keywords":["oi"],
		"nodes":[
			{"order_index":0,"type":"menu","content":"Escolha","options":[{"key":"1","label":"Preços","next_node_order":1}]},
			{"order_index":1,"type":"message","content":"R$ 10"}
		]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var a models.Automation
	decode(t, w, &a)
	assert.True(t, a.Active)
	require.Len(t, a.Nodes, 2)

	w = s.do(t, http.MethodPost, "/api/automations/"+a.ID+"/toggle", `{"active":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPut, "/api/automations/"+a.ID, `{"name":"Sempre","trigger_type":"always",
		"nodes":[{"order_index":0,"type":"message","content":"Olá"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Automation
	decode(t, w, &updated)
	assert.Equal(t, "Sempre", updated.Name)
	assert.False(t, updated.Active)
	assert.Len(t, updated.Nodes, 1)

	w = s.do(t, http.MethodGet, "/api/automations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Automation
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = s.do(t, http.MethodDelete, "/api/automations/"+a.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/automations/"+a.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWhatsAppConnect(t *testing.T) {
	s := newServer(t, func(tn *models.Tenant) {
		tn.WAInstanceID = ""
		tn.WAStatus = models.WADisconnected
	})

	w := s.do(t, http.MethodPost, "/api/whatsapp/connect", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res map[string]string
	decode(t, w, &res)
	assert.Equal(t, whatsapp.InstanceName(s.tenant.ID), res["instance"])
	assert.NotEmpty(t, res["qrcode"])
	assert.Equal(t, []string{whatsapp.InstanceName(s.tenant.ID)}, s.instances.created)

	tn, err := s.store.GetTenant(context.Background(), s.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WAConnecting, tn.WAStatus)

	w = s.do(t, http.MethodGet, "/api/whatsapp/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	assert.Equal(t, models.WAConnected, res["status"])

	w = s.do(t, http.MethodPost, "/api/whatsapp/disconnect", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, s.instances.loggedOut, 1)
	tn, err = s.store.GetTenant(context.Background(), s.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WADisconnected, tn.WAStatus)
}

func TestWhatsAppConnectRecreatesMissingInstance(t *testing.T) {
	s := newServer(t)
	s.instances.missing = true

	w := s.do(t, http.MethodPost, "/api/whatsapp/connect", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{s.tenant.WAInstanceID}, s.instances.created)
}

func TestDashboardAndHealth(t *testing.T) {
	s := newServer(t)
	storetest.Contacts(t, s.store, s.tenant.ID, 3)

	w := s.do(t, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Contacts int64 `json:"contacts"`
		Usage    struct {
			Limit int `json:"messages_limit_month"`
		} `json:"usage"`
	}
	decode(t, w, &stats)
	assert.EqualValues(t, 3, stats.Contacts)
	assert.Equal(t, s.tenant.MessagesLimitMonth, stats.Usage.Limit)

	w = s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	s.healthy = errors.New("redis unreachable")
	w = s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis unreachable")
}

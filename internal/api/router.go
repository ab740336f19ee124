package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Routes bundles everything mounted on the HTTP server.
type Routes struct {
	Tenants     TenantLoader
	Campaigns   *CampaignHandler
	Automations *AutomationHandler
	Contacts    *ContactHandler
	WhatsApp    *WhatsAppHandler
	Dashboard   *DashboardHandler
	Webhook     gin.HandlerFunc
	Stream      gin.HandlerFunc
	Metrics     gin.HandlerFunc
}

// CORS allows the dashboard served from another origin
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+TenantHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Stream adapts a tenant-scoped WebSocket endpoint. Browsers cannot set
// headers on upgrade requests, so the tenant usually comes from ?tenant_id.
func Stream(serve func(w http.ResponseWriter, r *http.Request, tenantID string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		serve(c.Writer, c.Request, currentTenant(c).ID)
	}
}

func Register(r *gin.Engine, rt Routes) {
	r.Use(CORS())

	r.GET("/health", rt.Dashboard.Health)
	if rt.Metrics != nil {
		r.GET("/metrics", rt.Metrics)
	}
	r.POST("/webhook/evolution", rt.Webhook)

	apiGroup := r.Group("/api", TenantMiddleware(rt.Tenants))
	{
		apiGroup.GET("/dashboard", rt.Dashboard.GetStats)
		if rt.Stream != nil {
			apiGroup.GET("/ws", rt.Stream)
		}

		// Campaign Routes
		apiGroup.GET("/campaigns", rt.Campaigns.ListCampaigns)
		apiGroup.POST("/campaigns", rt.Campaigns.CreateCampaign)
		apiGroup.GET("/campaigns/calendar", rt.Campaigns.GetCalendar)
		apiGroup.GET("/campaigns/:id", rt.Campaigns.GetCampaign)
		apiGroup.GET("/campaigns/:id/report", rt.Campaigns.GetReport)
		apiGroup.POST("/campaigns/:id/start", rt.Campaigns.StartCampaign)
		apiGroup.POST("/campaigns/:id/pause", rt.Campaigns.PauseCampaign)
		apiGroup.POST("/campaigns/:id/resume", rt.Campaigns.ResumeCampaign)
		apiGroup.POST("/campaigns/:id/cancel", rt.Campaigns.CancelCampaign)

		// Automation Routes
		apiGroup.GET("/automations", rt.Automations.GetAutomations)
		apiGroup.POST("/automations", rt.Automations.CreateAutomation)
		apiGroup.GET("/automations/:id", rt.Automations.GetAutomation)
		apiGroup.PUT("/automations/:id", rt.Automations.UpdateAutomation)
		apiGroup.POST("/automations/:id/toggle", rt.Automations.ToggleAutomation)
		apiGroup.DELETE("/automations/:id", rt.Automations.DeleteAutomation)

		// CRM Routes
		apiGroup.GET("/contacts", rt.Contacts.GetContacts)
		apiGroup.POST("/contacts", rt.Contacts.CreateContact)
		apiGroup.POST("/contacts/import", rt.Contacts.ImportContacts)
		apiGroup.PUT("/contacts/:id", rt.Contacts.UpdateContact)
		apiGroup.DELETE("/contacts/:id", rt.Contacts.DeleteContact)

		// WhatsApp Connection Routes
		whatsappGroup := apiGroup.Group("/whatsapp")
		{
			whatsappGroup.POST("/connect", rt.WhatsApp.Connect)
			whatsappGroup.GET("/status", rt.WhatsApp.Status)
			whatsappGroup.POST("/disconnect", rt.WhatsApp.Disconnect)
		}
	}
}

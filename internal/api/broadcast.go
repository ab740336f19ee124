package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"zapflow/internal/campaign"
	"zapflow/internal/models"
	pkgmodels "zapflow/pkg/models"
)

// CampaignHandler exposes bulk broadcast campaigns.
type CampaignHandler struct {
	Service *campaign.Service
}

func NewCampaignHandler(svc *campaign.Service) *CampaignHandler {
	return &CampaignHandler{Service: svc}
}

// CreateCampaign creates one campaign per recurrence occurrence
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req pkgmodels.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.Service.Create(c.Request.Context(), currentTenant(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pkgmodels.CreateCampaignResponse{Created: len(created), Campaigns: created})
}

func (h *CampaignHandler) ListCampaigns(c *gin.Context) {
	list, err := h.Service.List(c.Request.Context(), currentTenant(c).ID, c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []models.Campaign{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	camp, err := h.Service.Get(c.Request.Context(), currentTenant(c).ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, camp)
}

func (h *CampaignHandler) StartCampaign(c *gin.Context) {
	jobID, err := h.Service.Start(c.Request.Context(), currentTenant(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running", "job_id": jobID})
}

func (h *CampaignHandler) PauseCampaign(c *gin.Context) {
	if err := h.Service.Pause(c.Request.Context(), currentTenant(c).ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (h *CampaignHandler) ResumeCampaign(c *gin.Context) {
	jobID, err := h.Service.Resume(c.Request.Context(), currentTenant(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running", "job_id": jobID})
}

func (h *CampaignHandler) CancelCampaign(c *gin.Context) {
	if err := h.Service.Cancel(c.Request.Context(), currentTenant(c).ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// GetReport returns the campaign with its delivery summary
func (h *CampaignHandler) GetReport(c *gin.Context) {
	report, err := h.Service.Report(c.Request.Context(), currentTenant(c).ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetCalendar lists a month of campaigns keyed by day; defaults to the
// current month
func (h *CampaignHandler) GetCalendar(c *gin.Context) {
	now := time.Now()
	year, month := now.Year(), int(now.Month())
	if v := c.Query("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
			return
		}
		year = n
	}
	if v := c.Query("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 12 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month"})
			return
		}
		month = n
	}

	days, err := h.Service.Calendar(c.Request.Context(), currentTenant(c).ID, year, time.Month(month))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"year": year, "month": month, "days": days})
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"labreserve-backend/internal/model"
)

// LabResponse represents the API response for a single lab.
type LabResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Building       string `json:"building"`
	TotalComputers int64  `json:"totalComputers"`
	Available      int64  `json:"available"`
}

// GetLabs handles the GET /api/labs request.
func (h *Handler) GetLabs(c *gin.Context) {
	db := h.store.DB()

	var labs []model.Lab
	if err := db.Find(&labs).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve labs"})
		return
	}

	// One aggregate pass over computers instead of a query per lab.
	type AggRow struct {
		LabID     int64
		Total     int64
		Available int64
	}
	var aggs []AggRow
	if err := db.
		Model(&model.Computer{}).
		Select("lab_id as lab_id, COUNT(*) as total, COUNT(*) FILTER (WHERE status = 'available') as available").
		Group("lab_id").
		Scan(&aggs).Error; err != nil {
		// FILTER is postgres-only; fall back to counting in Go for
		// other drivers (the sqlite-backed tests take this path).
		aggs = aggs[:0]
		var computers []model.Computer
		if err := db.Find(&computers).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to aggregate computers"})
			return
		}
		byLab := make(map[int64]*AggRow)
		for _, comp := range computers {
			row, ok := byLab[comp.LabID]
			if !ok {
				row = &AggRow{LabID: comp.LabID}
				byLab[comp.LabID] = row
			}
			row.Total++
			if comp.Status == model.StatusAvailable {
				row.Available++
			}
		}
		for _, row := range byLab {
			aggs = append(aggs, *row)
		}
	}

	aggMap := make(map[int64]AggRow, len(aggs))
	for _, a := range aggs {
		aggMap[a.LabID] = a
	}

	responses := make([]LabResponse, 0, len(labs))
	for _, l := range labs {
		a := aggMap[l.ID] // zero value when the lab has no computers
		responses = append(responses, LabResponse{
			ID: l.ID, Name: l.Name, Building: l.Building,
			TotalComputers: a.Total, Available: a.Available,
		})
	}
	c.JSON(http.StatusOK, responses)
}

// computerStatusResponse is the flattened structure for the API response.
type computerStatusResponse struct {
	ID            int64                `json:"id"`
	AssetTag      string               `json:"assetTag"`
	Status        model.ComputerStatus `json:"status"`
	IsAvailable   bool                 `json:"isAvailable"`
	FaultNote     string               `json:"faultNote,omitempty"`
	Emergency     bool                 `json:"emergency"`
	ReservedBy    *int64               `json:"reservedBy,omitempty"`
	ReservedUntil *time.Time           `json:"reservedUntil,omitempty"`
	Online        bool                 `json:"online"`
	LastHeartbeat *time.Time           `json:"lastHeartbeat,omitempty"`
}

// GetLabComputers handles the GET /api/labs/{lab_id}/computers request.
func (h *Handler) GetLabComputers(c *gin.Context) {
	labID, err := strconv.ParseInt(c.Param("lab_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid lab ID"})
		return
	}

	var computers []model.Computer
	if err := h.store.DB().Where("lab_id = ?", labID).Order("asset_tag").Find(&computers).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve computers"})
		return
	}

	response := make([]computerStatusResponse, 0, len(computers))
	for _, comp := range computers {
		response = append(response, computerStatusResponse{
			ID:            comp.ID,
			AssetTag:      comp.AssetTag,
			Status:        comp.Status,
			IsAvailable:   comp.Status == model.StatusAvailable,
			FaultNote:     comp.FaultNote,
			Emergency:     comp.Emergency,
			ReservedBy:    comp.ReservedBy,
			ReservedUntil: comp.ReservedUntil,
			Online:        comp.Online,
			LastHeartbeat: comp.LastHeartbeat,
		})
	}
	c.JSON(http.StatusOK, response)
}

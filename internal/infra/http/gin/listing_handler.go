package ginserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	listingsvc "findit/internal/app/services/listings"
	domainlistings "findit/internal/domain/listings"
)

type ListingHandler struct {
	Service *listingsvc.Service
	Logger  *slog.Logger
}

type createListingRequest struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Price       float64  `json:"price"`
	Condition   string   `json:"condition"`
	Negotiable  bool     `json:"negotiable"`
	Images      []string `json:"images"`
	Tags        []string `json:"tags"`
	Pickup      string   `json:"pickup"`
	LostFound   string   `json:"lost_found"`
	Location    string   `json:"location"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type commentRequest struct {
	Text string `json:"text"`
}

func (h ListingHandler) Search(c *gin.Context) {
	params := domainlistings.SearchParams{
		Type:     domainlistings.ListingType(c.Query("type")),
		Category: c.Query("category"),
		Query:    c.Query("q"),
		Status:   domainlistings.ListingStatus(c.Query("status")),
		OwnerID:  c.Query("owner_id"),
	}
	var err error
	if params.MinPrice, err = parseOptionalFloat(c.Query("min_price")); err != nil {
		badRequest(c, "min_price must be a number")
		return
	}
	if params.MaxPrice, err = parseOptionalFloat(c.Query("max_price")); err != nil {
		badRequest(c, "max_price must be a number")
		return
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if params.Limit, err = strconv.Atoi(raw); err != nil {
			badRequest(c, "limit must be an integer")
			return
		}
	}
	result, err := h.Service.Search(c.Request.Context(), params)
	if err != nil {
		respondError(c, h.Logger, err, "search listings")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h ListingHandler) Get(c *gin.Context) {
	listing, err := h.Service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.Logger, err, "get listing", "listing_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h ListingHandler) Create(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	listing, err := h.Service.Create(c.Request.Context(), p.ID, listingsvc.CreateInput{
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Condition:   req.Condition,
		Negotiable:  req.Negotiable,
		Images:      req.Images,
		Tags:        req.Tags,
		Pickup:      req.Pickup,
		LostFound:   req.LostFound,
		Location:    req.Location,
	})
	if err != nil {
		respondError(c, h.Logger, err, "create listing", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

func (h ListingHandler) ChangeStatus(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	listing, err := h.Service.ChangeStatus(c.Request.Context(), p.ID, c.Param("id"), req.Status)
	if err != nil {
		respondError(c, h.Logger, err, "change listing status", "listing_id", c.Param("id"), "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h ListingHandler) Delete(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	if err := h.Service.Delete(c.Request.Context(), p.ID, c.Param("id")); err != nil {
		respondError(c, h.Logger, err, "delete listing", "listing_id", c.Param("id"), "user_id", p.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ListingHandler) Comments(c *gin.Context) {
	list, err := h.Service.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.Logger, err, "list comments", "listing_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h ListingHandler) AddComment(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	comment, err := h.Service.AddComment(c.Request.Context(), p.ID, c.Param("id"), req.Text)
	if err != nil {
		respondError(c, h.Logger, err, "add comment", "listing_id", c.Param("id"), "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func parseOptionalFloat(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

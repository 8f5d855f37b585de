package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	dealdomain "github.com/smallbiznis/dealbridge/internal/deal/domain"
)

func dealIDParam(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		return 0, newValidationError("id", "invalid_deal_id", "invalid deal id")
	}
	return id, nil
}

type createDealRequest struct {
	ProductURL  string  `json:"product_url"`
	DiscountPct float64 `json:"discount_pct"`
}

// @Summary      Create Deal
// @Description  Create a deal from a product URL
// @Tags         deals
// @Accept       json
// @Produce      json
// @Param        request body createDealRequest true "Create Deal Request"
// @Success      200  {object}  dealdomain.Deal
// @Router       /deals [post]
func (s *Server) CreateDeal(c *gin.Context) {
	actor, _ := actorFrom(c)
	var req createDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	deal, err := s.dealSvc.Create(c.Request.Context(), dealdomain.CreateRequest{
		BuyerID:     actor.ID,
		ProductURL:  strings.TrimSpace(req.ProductURL),
		DiscountPct: req.DiscountPct,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

func (s *Server) AcceptDeal(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, err := dealIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	deal, err := s.dealSvc.Accept(c.Request.Context(), id, actor.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

func (s *Server) CreatePaymentOrder(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, err := dealIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	deal, err := s.dealSvc.CreateOrder(c.Request.Context(), id, actor.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

type verifyPaymentRequest struct {
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

func (s *Server) VerifyPayment(c *gin.Context) {
	id, err := dealIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		AbortWithError(c, newValidationError("payment_id", "required", "payment_id is required"))
		return
	}

	deal, err := s.dealSvc.AuthorizePayment(c.Request.Context(), id, strings.TrimSpace(req.PaymentID), strings.TrimSpace(req.Signature))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

type shareAddressRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	Landmark     string `json:"landmark"`
}

func (s *Server) ShareAddress(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, err := dealIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req shareAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	deal, err := s.dealSvc.ShareAddress(c.Request.Context(), dealdomain.ShareAddressRequest{
		DealID:  id,
		BuyerID: actor.ID,
		Address: dealdomain.ShippingDetails{
			Name:         strings.TrimSpace(req.Name),
			Phone:        strings.TrimSpace(req.Phone),
			AddressLine1: strings.TrimSpace(req.AddressLine1),
			AddressLine2: strings.TrimSpace(req.AddressLine2),
			City:         strings.TrimSpace(req.City),
			State:        strings.TrimSpace(req.State),
			Pincode:      strings.TrimSpace(req.Pincode),
			Landmark:     strings.TrimSpace(req.Landmark),
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

type submitOrderRequest struct {
	ExternalOrderID string `json:"external_order_id"`
	InvoiceRef      string `json:"invoice_ref"`
	TrackingRef     string `json:"tracking_ref"`
}

func (s *Server) SubmitOrder(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, err := dealIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req submitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	deal, err := s.dealSvc.SubmitOrder(c.Request.Context(), dealdomain.SubmitOrderRequest{
		DealID:          id,
		CardholderID:    actor.ID,
		ExternalOrderID: req.ExternalOrderID,
		InvoiceRef:      req.InvoiceRef,
		TrackingRef:     req.TrackingRef,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

func (s *Server) MarkReceived(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, err := dealIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	deal, err := s.dealSvc.MarkReceived(c.Request.Context(), id, actor.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

type cancelDealRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CancelDeal(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, err := dealIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req cancelDealRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		AbortWithError(c, invalidRequestError())
		return
	}

	cancelledBy := dealdomain.CancelledBySystem
	switch actor.Role {
	case RoleBuyer:
		cancelledBy = dealdomain.CancelledByBuyer
	case RoleCardholder:
		cancelledBy = dealdomain.CancelledByCardholder
	}

	deal, err := s.dealSvc.Cancel(c.Request.Context(), dealdomain.CancelRequest{
		DealID:  id,
		Actor:   cancelledBy,
		ActorID: actor.ID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

type markShippedRequest struct {
	TrackingRef string `json:"tracking_ref"`
}

func (s *Server) MarkShipped(c *gin.Context) {
	id, err := dealIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req markShippedRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		AbortWithError(c, invalidRequestError())
		return
	}

	deal, err := s.dealSvc.MarkShipped(c.Request.Context(), id, strings.TrimSpace(req.TrackingRef))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

func (s *Server) CaptureDeal(c *gin.Context) {
	id, err := dealIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	deal, err := s.dealSvc.CaptureAndDisburse(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

func (s *Server) RetryPayout(c *gin.Context) {
	id, err := dealIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	deal, err := s.dealSvc.RetryPayout(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

func (s *Server) GetDeal(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, err := dealIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	deal, err := s.dealSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if actor.Role != RoleAdmin && deal.BuyerID != actor.ID &&
		(deal.CardholderID == nil || *deal.CardholderID != actor.ID) {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deal})
}

// @Summary      List Deals
// @Description  List deals visible to the caller
// @Tags         deals
// @Produce      json
// @Param        status        query  string  false  "Status"
// @Param        created_from  query  string  false  "Created From"
// @Param        created_to    query  string  false  "Created To"
// @Param        limit         query  int     false  "Limit"
// @Success      200  {object}  []dealdomain.Deal
// @Router       /deals [get]
func (s *Server) ListDeals(c *gin.Context) {
	actor, _ := actorFrom(c)
	var query struct {
		Status      string `form:"status"`
		CreatedFrom string `form:"created_from"`
		CreatedTo   string `form:"created_to"`
		Limit       int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	createdFrom, err := parseOptionalTime(query.CreatedFrom, false)
	if err != nil {
		AbortWithError(c, newValidationError("created_from", "invalid_created_from", "invalid created_from"))
		return
	}
	createdTo, err := parseOptionalTime(query.CreatedTo, true)
	if err != nil {
		AbortWithError(c, newValidationError("created_to", "invalid_created_to", "invalid created_to"))
		return
	}

	filter := dealdomain.ListFilter{
		Status:      dealdomain.Status(strings.TrimSpace(query.Status)),
		CreatedFrom: createdFrom,
		CreatedTo:   createdTo,
		Limit:       query.Limit,
	}
	switch actor.Role {
	case RoleBuyer:
		filter.BuyerID = actor.ID
	case RoleCardholder:
		filter.CardholderID = actor.ID
	}

	deals, err := s.dealSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deals})
}

func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}
	ts, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	ts = ts.UTC()
	if endOfDay {
		ts = ts.Add(24*time.Hour - time.Nanosecond)
	}
	return &ts, nil
}

package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridmarket/certex/internal/api/dto"
	"github.com/gridmarket/certex/internal/compat"
	"github.com/gridmarket/certex/internal/domain"
	"github.com/gridmarket/certex/internal/middleware"
	"github.com/gridmarket/certex/internal/service"
)

type HTTPServer struct {
	svc *service.OrderBookService
}

func NewHTTPServer(svc *service.OrderBookService) *HTTPServer {
	return &HTTPServer{svc: svc}
}

func (s *HTTPServer) Run(addr string) error {
	r := gin.Default()

	rl := middleware.NewRateLimiter(time.Millisecond * 100)
	orders := r.Group("/orders", rl.Middleware())
	orders.POST("", s.submitOrder)
	orders.POST("/cancel", s.cancelOrder)

	r.GET("/orders/:id", s.getOrder)
	r.GET("/orders/:id/trades", s.getTrades)
	r.GET("/orderbook", s.getOrderbook)

	// Runner entry point: the external scheduler triggers cycles here.
	r.POST("/products/:id/match", s.runMatchingCycle)
	r.POST("/compatibility/reload", s.reloadCompatibility)

	return r.Run(addr)
}

func (s *HTTPServer) submitOrder(c *gin.Context) {
	var req dto.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	price, err := dto.ToUnits(req.Price, dto.PriceScale)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price: " + err.Error()})
		return
	}
	volume, err := dto.ToUnits(req.Volume, dto.EnergyScale)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "volume: " + err.Error()})
		return
	}

	o, err := s.svc.Submit(c.Request.Context(), service.SubmitRequest{
		OrderID:        req.OrderID,
		OwnerID:        req.OwnerID,
		ProductID:      req.ProductID,
		Side:           domain.Side(req.Side),
		Price:          price,
		Quantity:       volume,
		GridOperatorID: req.GridOperatorID,
		DeviceTypeID:   req.DeviceTypeID,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.SubmitOrderResponse{
		OrderID:   o.ID,
		Seq:       o.Seq,
		Status:    string(o.Status),
		Remaining: dto.FromUnits(o.Remaining, dto.EnergyScale),
	})
}

func (s *HTTPServer) cancelOrder(c *gin.Context) {
	var req dto.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.Cancel(c.Request.Context(), req.OrderID, req.OwnerID); err != nil {
		c.JSON(statusFor(err), dto.CancelOrderResponse{
			OrderID: req.OrderID,
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, dto.CancelOrderResponse{
		OrderID:   req.OrderID,
		Cancelled: true,
	})
}

func (s *HTTPServer) getOrder(c *gin.Context) {
	o, err := s.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.GetOrderResponse{Order: dto.FromDomainOrder(o)})
}

func (s *HTTPServer) getTrades(c *gin.Context) {
	trades, err := s.svc.TradesForOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.GetTradesResponse{Trades: dto.FromDomainTrades(trades)})
}

func (s *HTTPServer) getOrderbook(c *gin.Context) {
	productID := c.Query("product")
	snap, err := s.svc.Depth(c.Request.Context(), productID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.GetOrderbookResponse{
		ProductID: snap.ProductID,
		Bids:      dto.FromDomainOrders(snap.Bids),
		Asks:      dto.FromDomainOrders(snap.Asks),
		Timestamp: snap.Timestamp,
	})
}

func (s *HTTPServer) runMatchingCycle(c *gin.Context) {
	productID := c.Param("id")
	trades, err := s.svc.RunMatchingCycle(c.Request.Context(), productID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.MatchResponse{
		ProductID: productID,
		Trades:    dto.FromDomainTrades(trades),
	})
}

func (s *HTTPServer) reloadCompatibility(c *gin.Context) {
	var req dto.ReloadCompatibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.svc.ReloadCompatibility(&compat.Table{
		GridOperators: req.GridOperators,
		DeviceTypes:   req.DeviceTypes,
	})
	c.JSON(http.StatusOK, gin.H{"reloaded": true})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownProduct):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProductHalted), errors.Is(err, domain.ErrInvariant):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

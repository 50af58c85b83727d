package order

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/types"
	"github.com/ksred/booking-api/pkg/response"
)

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to create new orders
// The Idempotency-Key header is optional; when present it must not be blank
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := auth.PrincipalFrom(c)
		if !ok {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationFailed(c, err.Error())
			return
		}
		req.CustomerID = principal.UserID
		if values := c.Request.Header.Values("Idempotency-Key"); len(values) > 0 {
			key := values[0]
			req.IdempotencyKey = &key
		}

		result, err := h.service.Create(c.Request.Context(), req)
		if err != nil {
			response.Fail(c, err)
			return
		}
		if result.IdempotentHit {
			response.Success(c, result)
			return
		}
		response.Created(c, result)
	}
}

// ListCustomerOrdersHandler lists the caller's own orders
func (h *GinHandlers) ListCustomerOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := auth.PrincipalFrom(c)
		if !ok {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		orders, err := h.service.ListByCustomer(c.Request.Context(), principal.UserID)
		response.Handle(c, orders, err)
	}
}

// GetOrderHandler returns an order visible to the caller
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := auth.PrincipalFrom(c)
		if !ok {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		o, err := h.service.GetForPrincipal(c.Request.Context(), c.Param("order_id"), principal)
		response.Handle(c, o, err)
	}
}

// CancelOrderHandler cancels the caller's order. Admins may cancel any order
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := auth.PrincipalFrom(c)
		if !ok {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var req types.ReasonRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.ValidationFailed(c, err.Error())
				return
			}
		}

		customerID := principal.UserID
		if principal.IsAdmin() {
			customerID = ""
		}

		o, err := h.service.Cancel(c.Request.Context(), c.Param("order_id"), customerID, req.Reason)
		response.Handle(c, o, err)
	}
}

// ListProviderOrdersHandler lists a provider's orders, ?status= filters
func (h *GinHandlers) ListProviderOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		providerID, ok := providerFromPath(c)
		if !ok {
			return
		}

		orders, err := h.service.ListByProvider(c.Request.Context(), providerID, c.Query("status"))
		response.Handle(c, orders, err)
	}
}

func (h *GinHandlers) AcceptOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		providerID, ok := providerFromPath(c)
		if !ok {
			return
		}

		o, err := h.service.Accept(c.Request.Context(), c.Param("order_id"), providerID)
		response.Handle(c, o, err)
	}
}

func (h *GinHandlers) RejectOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		providerID, ok := providerFromPath(c)
		if !ok {
			return
		}

		var req types.ReasonRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.ValidationFailed(c, err.Error())
				return
			}
		}

		o, err := h.service.Reject(c.Request.Context(), c.Param("order_id"), providerID, req.Reason)
		response.Handle(c, o, err)
	}
}

func (h *GinHandlers) StartOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		providerID, ok := providerFromPath(c)
		if !ok {
			return
		}

		o, err := h.service.Start(c.Request.Context(), c.Param("order_id"), providerID)
		response.Handle(c, o, err)
	}
}

func (h *GinHandlers) CompleteOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		providerID, ok := providerFromPath(c)
		if !ok {
			return
		}

		o, err := h.service.Complete(c.Request.Context(), c.Param("order_id"), providerID)
		response.Handle(c, o, err)
	}
}

// providerFromPath checks that the caller may act for :provider_id and writes
// the error response when it may not.
func providerFromPath(c *gin.Context) (string, bool) {
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		response.Unauthorized(c, "Missing authentication claims")
		return "", false
	}

	providerID := c.Param("provider_id")
	if !principal.OwnsProvider(providerID) {
		response.Forbidden(c, "not allowed to act for provider "+providerID)
		return "", false
	}
	return providerID, true
}

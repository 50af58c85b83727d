package app

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/booking-api/internal/audit"
	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/catalog"
	"github.com/ksred/booking-api/internal/order"
	"github.com/ksred/booking-api/internal/payment"
	"github.com/ksred/booking-api/internal/refund"
	"github.com/ksred/booking-api/internal/settlement"
	"github.com/ksred/booking-api/internal/timeslot"
	"github.com/ksred/booking-api/pkg/middleware"
)

type routeHandlers struct {
	validator   middleware.TokenValidator
	auth        *auth.GinHandlers
	catalog     *catalog.GinHandlers
	slots       *timeslot.GinHandlers
	orders      *order.GinHandlers
	payments    *payment.GinHandlers
	refunds     *refund.GinHandlers
	settlements *settlement.GinHandlers
	audit       *audit.GinHandlers
	health      gin.HandlerFunc
}

// setupRoutes configures all API endpoints and their handlers
// Auth and service browsing are public; everything else needs a bearer token
// and lifecycle routes are gated by role
func setupRoutes(router *gin.Engine, h routeHandlers) {
	router.GET("/healthz", h.health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/healthz", h.health)
		v1.POST("/auth/token", h.auth.GenerateTokenHandler())

		v1.GET("/services", h.catalog.ListServicesHandler())
		v1.GET("/services/:service_id", h.catalog.GetServiceHandler())

		authed := v1.Group("")
		authed.Use(middleware.JWTAuth(h.validator))

		customerOrAdmin := middleware.RequireRole(auth.RoleCustomer, auth.RoleAdmin)
		providerOrAdmin := middleware.RequireRole(auth.RoleProvider, auth.RoleAdmin)

		orders := authed.Group("/orders")
		{
			orders.POST("", middleware.RequireRole(auth.RoleCustomer), h.orders.CreateOrderHandler())
			orders.GET("", middleware.RequireRole(auth.RoleCustomer), h.orders.ListCustomerOrdersHandler())
			orders.GET("/:order_id", h.orders.GetOrderHandler())
			orders.POST("/:order_id/pay", middleware.RequireRole(auth.RoleCustomer), h.payments.PayOrderHandler())
			orders.POST("/:order_id/cancel", customerOrAdmin, h.orders.CancelOrderHandler())
			orders.GET("/:order_id/payment", customerOrAdmin, h.payments.GetPaymentHandler())
		}

		refunds := authed.Group("/refunds")
		refunds.Use(customerOrAdmin)
		{
			refunds.GET("", h.refunds.ListRefundsHandler())
			refunds.GET("/:refund_id", h.refunds.GetRefundHandler())
		}

		providers := authed.Group("/providers/:provider_id")
		{
			providers.GET("/slots", h.slots.ListAvailableHandler())
			providers.POST("/slots", providerOrAdmin, h.slots.CreateSlotHandler())

			providers.GET("/orders", providerOrAdmin, h.orders.ListProviderOrdersHandler())
			providers.POST("/orders/:order_id/accept", providerOrAdmin, h.orders.AcceptOrderHandler())
			providers.POST("/orders/:order_id/reject", providerOrAdmin, h.orders.RejectOrderHandler())
			providers.POST("/orders/:order_id/start", providerOrAdmin, h.orders.StartOrderHandler())
			providers.POST("/orders/:order_id/complete", providerOrAdmin, h.orders.CompleteOrderHandler())
		}

		settlements := authed.Group("/settlements")
		settlements.Use(providerOrAdmin)
		{
			settlements.GET("", h.settlements.ListSettlementsHandler())
			settlements.GET("/summary", h.settlements.SummaryHandler())
			settlements.GET("/order/:order_id", h.settlements.GetOrderSettlementHandler())
			settlements.GET("/:settlement_id", h.settlements.GetSettlementHandler())
		}

		admin := authed.Group("/admin")
		admin.Use(middleware.RequireRole(auth.RoleAdmin))
		{
			admin.POST("/settlements/batch", h.settlements.RunBatchHandler())
			admin.GET("/settlements/batches", h.settlements.ListBatchesHandler())
			admin.GET("/orders/:order_id/audit", h.audit.OrderTrailHandler())
		}
	}
}

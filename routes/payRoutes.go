package routes

import (
	"nannynest/app"
	"nannynest/middleware"
	"nannynest/models"
	"nannynest/pay"
	"nannynest/ratelim"

	"github.com/julienschmidt/httprouter"
)

// AddPayRoutes wires escrow, payout and Connect onboarding handlers.
func AddPayRoutes(router *httprouter.Router, a *app.App, rateLimiter *ratelim.RateLimiter) {
	h := pay.NewHandlers(a.Payments, a.Onboarding, a.Stripe)
	idem := middleware.Idempotency(a.Idempotency)

	router.POST("/api/bookings/:id/pay",
		middleware.Chain(
			rateLimiter.Limit,
			middleware.Authenticate,
			middleware.RequireRoles(models.RoleParent),
			idem,
		)(h.InitiatePayment),
	)

	// Stripe signs the body; no user token
	router.POST("/api/stripe/webhook", h.Webhook)

	router.POST("/api/stripe/transfer-to-caregiver",
		middleware.Chain(
			rateLimiter.Limit,
			middleware.Authenticate,
			middleware.RequireRoles(models.RoleAdmin),
			idem,
		)(h.TransferToCaregiver),
	)

	router.POST("/api/admin/release-payments",
		middleware.Chain(
			rateLimiter.Limit,
			middleware.Authenticate,
			middleware.RequireRoles(models.RoleAdmin),
			idem,
		)(h.ReleasePayments),
	)

	router.GET("/api/admin/payouts/due",
		middleware.Chain(
			rateLimiter.Limit,
			middleware.Authenticate,
			middleware.RequireRoles(models.RoleAdmin),
		)(h.ListDue),
	)

	router.POST("/api/stripe/connect/create-account",
		middleware.Chain(
			rateLimiter.Limit,
			middleware.Authenticate,
			middleware.RequireRoles(models.RoleCaregiver),
		)(h.CreateConnectAccount),
	)

	router.GET("/api/stripe/connect/status",
		middleware.Chain(
			rateLimiter.Limit,
			middleware.Authenticate,
			middleware.RequireRoles(models.RoleCaregiver),
		)(h.ConnectStatus),
	)
}

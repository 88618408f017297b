package routes

import (
	"fmt"
	"net/http"

	"nannynest/app"
	"nannynest/auth"
	"nannynest/booking"
	"nannynest/chats"
	"nannynest/filemgr"
	"nannynest/metrics"
	"nannynest/middleware"
	"nannynest/models"
	"nannynest/nannyshare"
	"nannynest/newchat"
	"nannynest/ratelim"
	"nannynest/tickets"
	"nannynest/users"
	"nannynest/verify"
	"nannynest/vouchers"

	"github.com/julienschmidt/httprouter"
)

// byParam dispatches on a path parameter so fixed paths can share a
// segment with a wildcard in httprouter.
func byParam(name string, handlers map[string]httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if h, ok := handlers[ps.ByName(name)]; ok {
			h(w, r, ps)
			return
		}
		http.NotFound(w, r)
	}
}

func Index(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "200")
}

func AddUtilityRoutes(router *httprouter.Router, a *app.App) {
	router.GET("/health", Index)
	metricsHandler := metrics.Handler()
	router.GET("/metrics", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		metricsHandler.ServeHTTP(w, r)
	})
	if a.LocalPhotoDir != "" {
		router.ServeFiles("/static/uploads/*filepath", http.Dir(a.LocalPhotoDir))
	}
}

func AddAuthRoutes(router *httprouter.Router, a *app.App, rl Limiters) {
	h := auth.NewHandlers(a.Auth)
	u := users.NewHandlers(a.Users)

	router.POST("/api/auth/register", rl.Auth.Limit(h.Register))
	router.POST("/api/auth/login", rl.Auth.Limit(h.Login))
	router.POST("/api/auth/refresh", rl.Auth.Limit(h.RefreshToken))
	router.POST("/api/auth/logout", middleware.Chain(rl.General.Limit, middleware.Authenticate)(h.Logout))

	router.GET("/api/me", middleware.Chain(rl.General.Limit, middleware.Authenticate)(u.Me))

	p := auth.NewPhoneHandlers(a.Phone)
	phone := middleware.Chain(rl.Auth.Limit, middleware.Authenticate)
	router.POST("/api/phone/send-code", phone(p.SendCode))
	router.POST("/api/phone/verify", phone(p.Verify))
}

func AddBookingRoutes(router *httprouter.Router, a *app.App, rateLimiter *ratelim.RateLimiter) {
	h := booking.NewHandlers(a.Bookings)
	docs := tickets.NewHandlers(a.Documents)
	idem := middleware.Idempotency(a.Idempotency)

	authed := middleware.Chain(rateLimiter.Limit, middleware.Authenticate)
	parent := middleware.Chain(rateLimiter.Limit, middleware.Authenticate, middleware.RequireRoles(models.RoleParent), idem)
	caregiver := middleware.Chain(rateLimiter.Limit, middleware.Authenticate, middleware.RequireRoles(models.RoleCaregiver), idem)
	participant := middleware.Chain(rateLimiter.Limit, middleware.Authenticate, idem)

	router.GET("/api/bookings", authed(h.ListBookings))
	router.GET("/api/bookings/:id", authed(h.GetBooking))
	router.GET("/api/bookings/:id/qr", authed(docs.BookingQR))
	router.GET("/api/bookings/:id/invoice", authed(docs.BookingInvoice))

	// POST /api/bookings/create, /quote, /checkin
	router.POST("/api/bookings/:id", byParam("id", map[string]httprouter.Handle{
		"create":  parent(h.CreateBooking),
		"quote":   authed(h.QuoteBooking),
		"checkin": caregiver(docs.CheckIn),
	}))
	router.POST("/api/bookings/:id/respond", caregiver(h.RespondToBooking))
	router.POST("/api/bookings/:id/complete", participant(h.CompleteBooking))
	router.POST("/api/bookings/:id/cancel", participant(h.CancelBooking))
}

func AddVerificationRoutes(router *httprouter.Router, a *app.App, rateLimiter *ratelim.RateLimiter) {
	h := verify.NewHandlers(a.Verify, a.Config.VerificationCallbackSecret)

	caregiver := middleware.Chain(rateLimiter.Limit, middleware.Authenticate, middleware.RequireRoles(models.RoleCaregiver, models.RoleAdmin))

	router.POST("/api/wwcc/verify", caregiver(middleware.Idempotency(a.Idempotency)(h.SubmitWWCC)))
	router.POST("/api/background-check/initiate", caregiver(middleware.Idempotency(a.Idempotency)(h.InitiateBackgroundCheck)))
	router.GET("/api/verification/status", caregiver(h.Status))
	router.GET("/api/wwcc/providers/:state", middleware.Chain(rateLimiter.Limit, middleware.Authenticate)(h.GetProvider))

	// authority callbacks carry a shared secret instead of a user token
	router.POST("/api/verification/:id/decision", middleware.Chain(rateLimiter.Limit, middleware.OptionalAuth)(h.Decide))
}

func AddChatRoutes(router *httprouter.Router, a *app.App, rateLimiter *ratelim.RateLimiter) {
	h := chats.NewHandlers(a.Relay)
	authed := middleware.Chain(rateLimiter.Limit, middleware.Authenticate)

	router.POST("/api/sendMessage", authed(h.SendMessage))
	router.GET("/api/messages/:conversationKey", authed(h.GetMessages))
	router.GET("/api/conversations", authed(h.ListConversations))

	router.GET("/ws/conversations/:conversationKey", middleware.Authenticate(newchat.Handler(a.Hub, a.Relay, a.Log)))
}

func AddNannyShareRoutes(router *httprouter.Router, a *app.App, rateLimiter *ratelim.RateLimiter) {
	h := nannyshare.NewHandlers(a.Shares)
	msgs := chats.NewHandlers(a.Relay)

	authed := middleware.Chain(rateLimiter.Limit, middleware.Authenticate)
	parent := middleware.Chain(rateLimiter.Limit, middleware.Authenticate, middleware.RequireRoles(models.RoleParent), middleware.Idempotency(a.Idempotency))

	router.GET("/api/nanny-shares", authed(h.List))
	router.POST("/api/nanny-shares", parent(h.Create))
	router.GET("/api/nanny-shares/:id", authed(h.Get))
	router.GET("/api/nanny-shares/:id/members", authed(h.Members))
	router.POST("/api/nanny-shares/:id/join", parent(h.Join))
	router.POST("/api/nanny-shares/:id/leave", parent(h.Leave))
	router.POST("/api/nanny-shares/:id/assign-nanny", parent(h.AssignNanny))

	// the assigned nanny reads and posts too, so no role gate here
	router.GET("/api/nanny-shares/:id/messages", authed(msgs.GetShareMessages))
	router.POST("/api/nanny-shares/:id/messages", authed(msgs.PostShareMessage))
}

func AddMediaRoutes(router *httprouter.Router, a *app.App, rateLimiter *ratelim.RateLimiter) {
	h := filemgr.NewHandlers(a.Photos, a.Users, users.MaxPhotos)
	router.POST("/api/upload-profile-photos", middleware.Chain(rateLimiter.Limit, middleware.Authenticate)(h.UploadProfilePhotos))
}

func AddVoucherRoutes(router *httprouter.Router, a *app.App, rateLimiter *ratelim.RateLimiter) {
	h := vouchers.NewHandlers(a.Vouchers)
	idem := middleware.Idempotency(a.Idempotency)

	authed := middleware.Chain(rateLimiter.Limit, middleware.Authenticate)
	caregiver := middleware.Chain(rateLimiter.Limit, middleware.Authenticate, middleware.RequireRoles(models.RoleCaregiver))
	admin := middleware.Chain(rateLimiter.Limit, middleware.Authenticate, middleware.RequireRoles(models.RoleAdmin))

	router.GET("/api/vouchers/types", authed(h.Types))
	router.GET("/api/vouchers/eligibility", caregiver(h.Eligibility))
	router.GET("/api/vouchers", caregiver(h.Mine))
	router.POST("/api/vouchers", caregiver(idem(h.Submit)))

	router.GET("/api/admin/vouchers", admin(h.AdminList))
	router.POST("/api/admin/vouchers/:id/decision", admin(h.Decide))
	router.POST("/api/admin/vouchers/:id/pay", admin(idem(h.Pay)))
}

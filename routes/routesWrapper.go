package routes

import (
	"nannynest/app"
	"nannynest/ratelim"

	"github.com/julienschmidt/httprouter"
)

// Limiters are the per-IP buckets routes draw from. Auth is the stricter
// one, for credential endpoints.
type Limiters struct {
	General *ratelim.RateLimiter
	Auth    *ratelim.RateLimiter
}

func RoutesWrapper(router *httprouter.Router, a *app.App, rl Limiters) {
	AddUtilityRoutes(router, a)
	AddAuthRoutes(router, a, rl)
	AddBookingRoutes(router, a, rl.General)
	AddPayRoutes(router, a, rl.General)
	AddVerificationRoutes(router, a, rl.General)
	AddChatRoutes(router, a, rl.General)
	AddNannyShareRoutes(router, a, rl.General)
	AddMediaRoutes(router, a, rl.General)
	AddVoucherRoutes(router, a, rl.General)
}

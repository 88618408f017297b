package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nannynest/globals"
	"nannynest/models"
	"nannynest/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// JWT claims
type Claims struct {
	Email  string   `json:"email"`
	UserID string   `json:"userId"`
	Role   []string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for u valid for ttl.
func IssueToken(u *models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email:  u.Email,
		UserID: u.ID,
		Role:   u.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(globals.JwtSecret)
}

func parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return globals.JwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("unauthorized: %w", err)
	}
	return claims, nil
}

func withClaims(r *http.Request, claims *Claims) *http.Request {
	ctx := context.WithValue(r.Context(), globals.UserIDKey, claims.UserID)
	ctx = context.WithValue(ctx, globals.RoleKey, claims.Role)
	return r.WithContext(ctx)
}

func Authenticate(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tokenString := r.Header.Get("Authorization")
		if websocket.IsWebSocketUpgrade(r) && tokenString == "" {
			// browsers cannot set headers on upgrade requests
			if q := r.URL.Query().Get("token"); q != "" {
				tokenString = "Bearer " + q
			}
		}
		if tokenString == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, "Missing token")
			return
		}

		if len(tokenString) < 8 || tokenString[:7] != "Bearer " {
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token format")
			return
		}

		claims, err := parse(tokenString[7:])
		if err != nil || claims.UserID == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next(w, withClaims(r, claims), ps)
	}
}

func OptionalAuth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tokenString := r.Header.Get("Authorization")
		if len(tokenString) >= 8 && tokenString[:7] == "Bearer " {
			if claims, err := parse(tokenString[7:]); err == nil {
				r = withClaims(r, claims)
			}
		}
		// Proceed regardless of token state
		next(w, r, ps)
	}
}

func ValidateJWT(tokenString string) (*Claims, error) {
	if tokenString == "" || len(tokenString) < 8 {
		return nil, fmt.Errorf("invalid token")
	}
	return parse(strings.TrimPrefix(tokenString, "Bearer "))
}

// RequireRoles lets the request through when the caller holds any of roles.
// Must run after Authenticate.
func RequireRoles(roles ...string) func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			have := utils.GetRolesFromRequest(r)
			for _, want := range roles {
				if utils.Contains(have, want) {
					next(w, r, ps)
					return
				}
			}
			utils.RespondWithError(w, http.StatusForbidden, "Access denied. Required role: "+strings.Join(roles, " or "))
		}
	}
}

// Chain applies middlewares so the first one listed runs first.
func Chain(mws ...func(httprouter.Handle) httprouter.Handle) func(httprouter.Handle) httprouter.Handle {
	return func(final httprouter.Handle) httprouter.Handle {
		for i := len(mws) - 1; i >= 0; i-- {
			final = mws[i](final)
		}
		return final
	}
}

// SecurityHeaders applies a set of recommended HTTP security headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next.ServeHTTP(w, r)
	})
}

package utils

import (
	"net/http"

	"nannynest/globals"
	"nannynest/models"
)

func GetUserIDFromRequest(r *http.Request) string {
	ctx := r.Context()
	requestingUserID, ok := ctx.Value(globals.UserIDKey).(string)
	if !ok || requestingUserID == "" {
		return ""
	}
	return requestingUserID
}

func GetRolesFromRequest(r *http.Request) []string {
	roles, _ := r.Context().Value(globals.RoleKey).([]string)
	return roles
}

// ActorFromRequest is the authenticated caller as the services see it.
func ActorFromRequest(r *http.Request) models.Actor {
	return models.Actor{ID: GetUserIDFromRequest(r), Roles: GetRolesFromRequest(r)}
}

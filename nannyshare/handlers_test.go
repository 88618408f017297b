package nannyshare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nannynest/globals"
	"nannynest/models"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asUser(r *http.Request, id string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), globals.UserIDKey, id))
}

func TestShareHandlers(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandlers(svc)

	body := `{"title":"Inner west share","suburb":"Newtown","ratePerHour":32.5,"startDate":"2025-03-03","maxFamilies":2}`
	rec := httptest.NewRecorder()
	h.Create(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/nanny-shares", strings.NewReader(body)), "p1"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var share models.NannyShare
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &share))
	assert.Equal(t, int64(3250), share.RatePerHour)
	ps := httprouter.Params{{Key: "id", Value: share.ID}}

	rec = httptest.NewRecorder()
	h.Join(rec, asUser(httptest.NewRequest(http.MethodPost, "/", nil), "p2"), ps)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"full"`)

	rec = httptest.NewRecorder()
	h.Join(rec, asUser(httptest.NewRequest(http.MethodPost, "/", nil), "p3"), ps)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.List(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/nanny-shares?suburb=newtown", nil), "p3"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), share.ID)

	rec = httptest.NewRecorder()
	h.AssignNanny(rec, asUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nannyId":"n1"}`)), "p1"), ps)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)

	rec = httptest.NewRecorder()
	h.Create(rec, asUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x","suburb":"y","ratePerHour":20}`)), "p1"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farellandr/gigboard/config"
	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/dbtest"
	"github.com/farellandr/gigboard/internal/notify"
)

const testSecret = "server-test-secret"

// Today is Sunday 2026-02-01 in Chicago.
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	db := dbtest.Open(t)
	cfg := config.DefaultConfig()
	cfg.JWTSecret = testSecret
	region, err := calendar.NewRegion(cfg.Region, calendar.FixedClock(time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	return NewHandler(cfg, db, NewServices(db, region, cfg, notify.LogPublisher{}))
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"name":    userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func call(h http.Handler, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createJam(t *testing.T, h http.Handler, host string) string {
	t.Helper()
	w := call(h, http.MethodPost, "/v1/events", token(t, host, "host"), map[string]interface{}{
		"title":           "Monday Jam",
		"venue":           "Back Room",
		"start_time":      "19:00",
		"event_date":      "2026-01-05",
		"day_of_week":     1,
		"recurrence_rule": "weekly",
		"capacity":        1,
		"categories":      []string{"Music"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["event_id"].(string)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	w := call(h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateEventRequiresToken(t *testing.T) {
	h := newTestHandler(t)
	w := call(h, http.MethodPost, "/v1/events", "", map[string]interface{}{"title": "x", "start_time": "19:00"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListOccurrences(t *testing.T) {
	h := newTestHandler(t)
	createJam(t, h, "host-1")

	w := call(h, http.MethodGet, "/v1/occurrences", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)

	dates := body["dates"].([]interface{})
	assert.Contains(t, dates, "2026-02-02")
	assert.Contains(t, dates, "2026-02-09")
	assert.NotContains(t, dates, "2026-01-26")

	w = call(h, http.MethodGet, "/v1/occurrences?category=music", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["dates"])

	w = call(h, http.MethodGet, "/v1/occurrences?start=2026-02-01&end=2025-02-01", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignupWaitlistAndPromotion(t *testing.T) {
	h := newTestHandler(t)
	eventID := createJam(t, h, "host-1")
	path := "/v1/events/" + eventID + "/occurrences/2026-02-02/signups"

	w := call(h, http.MethodPost, path, "", map[string]string{"name": "Ada"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode(t, w)
	assert.Equal(t, "confirmed", first["status"])

	w = call(h, http.MethodPost, path, "", map[string]string{"name": "Grace"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	second := decode(t, w)
	assert.Equal(t, "waitlist", second["status"])
	assert.EqualValues(t, 1, second["waitlist_position"])

	w = call(h, http.MethodGet, "/v1/events/"+eventID+"/occurrences/2026-02-02/count", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	count := decode(t, w)
	assert.EqualValues(t, 1, count["confirmed"])
	assert.EqualValues(t, 1, count["waitlist_length"])
	assert.EqualValues(t, 0, count["remaining"])

	signupID := first["signup"].(map[string]interface{})["id"].(string)
	w = call(h, http.MethodDelete, "/v1/signups/"+signupID, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	promoted := decode(t, w)["promoted"].(map[string]interface{})
	assert.Equal(t, "Grace", promoted["name"])
	assert.Equal(t, "confirmed", promoted["status"])

	w = call(h, http.MethodDelete, "/v1/signups/"+signupID, "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = call(h, http.MethodPost, "/v1/events/"+eventID+"/occurrences/2026-02-03/signups", "", map[string]string{"name": "Ada"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOverrideOwnership(t *testing.T) {
	h := newTestHandler(t)
	eventID := createJam(t, h, "host-1")
	path := "/v1/events/" + eventID + "/occurrences/2026-02-09/override"

	w := call(h, http.MethodPut, path, token(t, "someone-else", "host"), map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(h, http.MethodPut, path, token(t, "host-1", "host"), map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(h, http.MethodPost, "/v1/events/"+eventID+"/occurrences/2026-02-09/signups", "", map[string]string{"name": "Ada"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = call(h, http.MethodPut, "/v1/events/"+eventID+"/occurrences/2026-02-02/override", token(t, "host-1", "host"), map[string]string{"date": "2026-02-09"})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = call(h, http.MethodDelete, path, token(t, "host-1", "host"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignupCancelNeedsSameUser(t *testing.T) {
	h := newTestHandler(t)
	eventID := createJam(t, h, "host-1")

	w := call(h, http.MethodPost, "/v1/events/"+eventID+"/occurrences/2026-02-02/signups", token(t, "fan-1", ""), map[string]string{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	signupID := decode(t, w)["signup"].(map[string]interface{})["id"].(string)

	assert.Equal(t, http.StatusForbidden, call(h, http.MethodDelete, "/v1/signups/"+signupID, token(t, "fan-2", ""), nil).Code)
	assert.Equal(t, http.StatusForbidden, call(h, http.MethodDelete, "/v1/signups/"+signupID, "", nil).Code)

	w = call(h, http.MethodGet, "/v1/me/signups", token(t, "fan-1", ""), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusOK, call(h, http.MethodDelete, "/v1/signups/"+signupID, token(t, "host-1", "host"), nil).Code)
}

func TestCategoriesAdminOnly(t *testing.T) {
	h := newTestHandler(t)

	w := call(h, http.MethodPost, "/v1/categories", token(t, "host-1", "host"), map[string]string{"name": "poetry"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(h, http.MethodPost, "/v1/categories", token(t, "root", "admin"), map[string]string{"name": "poetry"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = call(h, http.MethodGet, "/v1/categories", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])
}

func TestExportOccurrences(t *testing.T) {
	h := newTestHandler(t)
	createJam(t, h, "host-1")

	w := call(h, http.MethodGet, "/v1/occurrences.ics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, w.Body.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, w.Body.String(), "SUMMARY:Monday Jam")
}

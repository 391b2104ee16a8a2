package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/geo"
	"geoattend/internal/session"
	"geoattend/internal/verdict"
)

const (
	signingKey = "test-signing-key"
	issuer     = "geoattend-test"
)

var room = geo.GeoPoint{Latitude: 37.7749, Longitude: -122.4194}

type testAPI struct {
	t         *testing.T
	router    *gin.Engine
	lifecycle *session.Lifecycle
	svc       *attendance.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lc := session.NewLifecycle(session.NewMemoryRepository(), nil, nil)
	svc := attendance.NewService(lc, attendance.NewMemoryStore(), nil, nil, attendance.Options{
		Tolerance:       verdict.DefaultTolerance(),
		LocationTimeout: time.Second,
	})
	_, err := svc.SetClassLocation(context.Background(), attendance.Class{
		ID:       "cs101",
		Location: verdict.ReferenceLocation{Point: room, Radius: 50},
	})
	require.NoError(t, err)

	srv := New(lc, svc, map[string]HealthCheck{"db": func(context.Context) bool { return true }}, Options{
		Env:           "dev",
		JWTIssuer:     issuer,
		JWTSigningKey: signingKey,
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		CORSOrigins:   []string{"*"},
	})
	return &testAPI{t: t, router: srv.Router(), lifecycle: lc, svc: svc}
}

func (a *testAPI) token(subject, role string) string {
	pair, err := auth.Issue(subject, role, issuer, signingKey, time.Minute, time.Hour)
	require.NoError(a.t, err)
	return pair.AccessToken
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// activeSession creates and starts a session owned by teacher-1.
func (a *testAPI) activeSession() string {
	now := time.Now()
	s, err := a.lifecycle.Create(context.Background(), session.Session{ClassID: "cs101", TeacherID: "teacher-1", StartTime: now, EndTime: now.Add(time.Hour)})
	require.NoError(a.t, err)
	_, err = a.lifecycle.Start(context.Background(), s.ID)
	require.NoError(a.t, err)
	return s.ID
}

func north(p geo.GeoPoint, meters float64) geo.GeoPoint {
	return geo.GeoPoint{Latitude: p.Latitude + meters/geo.EarthRadiusMeters*180/math.Pi, Longitude: p.Longitude}
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	api := newTestAPI(t)
	teacher := api.token("teacher-1", auth.RoleTeacher)
	now := time.Now().UTC()

	w := api.do(http.MethodPost, "/v1/sessions", teacher, gin.H{
		"class_id":   "cs101",
		"start_time": now,
		"end_time":   now.Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id := created["id"].(string)
	assert.Equal(t, "scheduled", created["status"])
	assert.Equal(t, "teacher-1", created["teacher_id"])

	w = api.do(http.MethodPost, "/v1/sessions/"+id+"/complete", teacher, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodPost, "/v1/sessions/"+id+"/start", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "active", decode(t, w)["status"])

	w = api.do(http.MethodPut, "/v1/sessions/"+id+"/teacher-location", teacher, gin.H{"latitude": 37.78, "longitude": -122.41})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, decode(t, w)["teacher_location"])

	w = api.do(http.MethodPost, "/v1/sessions/"+id+"/complete", teacher, gin.H{"latitude": 37.781, "longitude": -122.411})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", decode(t, w)["status"])

	w = api.do(http.MethodGet, "/v1/sessions/"+id, api.token("s1", auth.RoleStudent), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decode(t, w)["status"])
}

func TestCreateSessionValidation(t *testing.T) {
	api := newTestAPI(t)
	teacher := api.token("teacher-1", auth.RoleTeacher)
	now := time.Now().UTC()

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{name: "missing class", body: gin.H{"start_time": now, "end_time": now.Add(time.Hour)}, want: http.StatusBadRequest},
		{name: "end before start", body: gin.H{"class_id": "cs101", "start_time": now, "end_time": now.Add(-time.Hour)}, want: http.StatusBadRequest},
		{name: "unknown class", body: gin.H{"class_id": "nope", "start_time": now, "end_time": now.Add(time.Hour)}, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPost, "/v1/sessions", teacher, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := api.do(http.MethodPost, "/v1/sessions", api.token("s1", auth.RoleStudent), gin.H{"class_id": "cs101"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = api.do(http.MethodPost, "/v1/sessions", "", gin.H{"class_id": "cs101"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCompleteSessionChunkedBody(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantLocation bool
	}{
		{name: "with teacher location", body: `{"latitude": 37.781, "longitude": -122.411}`, wantLocation: true},
		{name: "empty body", body: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			id := api.activeSession()

			// MultiReader hides the length, as a chunked upload does.
			req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/complete", io.MultiReader(strings.NewReader(tt.body)))
			require.EqualValues(t, -1, req.ContentLength)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+api.token("teacher-1", auth.RoleTeacher))
			w := httptest.NewRecorder()
			api.router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			got, err := api.lifecycle.Get(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, session.Completed, got.Status)
			if tt.wantLocation {
				require.NotNil(t, got.TeacherLocation)
				assert.Equal(t, geo.GeoPoint{Latitude: 37.781, Longitude: -122.411}, got.TeacherLocation.Point)
			} else {
				assert.Nil(t, got.TeacherLocation)
			}
		})
	}
}

func TestListAttemptsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	id := api.activeSession()
	path := "/v1/sessions/" + id + "/attempts/student-1"

	w := api.do(http.MethodGet, path, api.token("teacher-1", auth.RoleTeacher), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []any{}, decode(t, w)["attempts"])

	w = api.do(http.MethodGet, path, api.token("teacher-2", auth.RoleTeacher), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = api.do(http.MethodGet, path, api.token("student-1", auth.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = api.do(http.MethodGet, "/v1/sessions/missing/attempts/student-1", api.token("root", auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionOwnership(t *testing.T) {
	api := newTestAPI(t)
	id := api.activeSession()

	w := api.do(http.MethodPost, "/v1/sessions/"+id+"/complete", api.token("teacher-2", auth.RoleTeacher), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = api.do(http.MethodPost, "/v1/sessions/"+id+"/complete", api.token("root", auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = api.do(http.MethodPost, "/v1/sessions/missing/start", api.token("root", auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMarkAttendanceEndpoint(t *testing.T) {
	api := newTestAPI(t)
	id := api.activeSession()
	corridor := north(room, 60)

	tests := []struct {
		name        string
		student     string
		body        gin.H
		wantCode    int
		wantOutcome string
	}{
		{name: "verified", student: "s1", body: gin.H{"latitude": room.Latitude, "longitude": room.Longitude, "accuracy": 5}, wantCode: http.StatusOK, wantOutcome: "verified"},
		{name: "proxy suspect", student: "s2", body: gin.H{"latitude": corridor.Latitude, "longitude": corridor.Longitude}, wantCode: http.StatusOK, wantOutcome: "proxy_suspect"},
		{name: "device error", student: "s3", body: gin.H{"error": "permission_denied"}, wantCode: http.StatusOK, wantOutcome: "device_error"},
		{name: "bad latitude", student: "s4", body: gin.H{"latitude": 91, "longitude": 0}, wantCode: http.StatusBadRequest},
		{name: "unknown error reason", student: "s4", body: gin.H{"error": "gps_on_fire"}, wantCode: http.StatusBadRequest},
		{name: "empty report", student: "s4", body: gin.H{}, wantCode: http.StatusBadRequest},
		{name: "both coordinates and error", student: "s4", body: gin.H{"latitude": 1, "longitude": 1, "error": "timeout"}, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPost, "/v1/sessions/"+id+"/attendance", api.token(tt.student, auth.RoleStudent), tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantOutcome == "" {
				return
			}
			body := decode(t, w)
			outcome := body["outcome"].(map[string]any)
			assert.Equal(t, tt.wantOutcome, outcome["status"])
			if tt.wantOutcome == "device_error" {
				assert.Equal(t, true, body["retry"])
				assert.NotEmpty(t, body["message"])
				assert.Nil(t, body["record"])
			} else {
				assert.NotNil(t, body["record"])
			}
		})
	}

	teacher := api.token("teacher-1", auth.RoleTeacher)
	w := api.do(http.MethodGet, "/v1/sessions/"+id+"/records", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["records"], 2)

	w = api.do(http.MethodGet, "/v1/sessions/"+id+"/proxy-review", teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	proxies := decode(t, w)["records"].([]any)
	require.Len(t, proxies, 1)
	assert.Equal(t, "s2", proxies[0].(map[string]any)["student_id"])

	w = api.do(http.MethodPost, "/v1/sessions/"+id+"/attendance", teacher, gin.H{"error": "timeout"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMarkAttendanceSessionState(t *testing.T) {
	api := newTestAPI(t)
	now := time.Now()
	s, err := api.lifecycle.Create(context.Background(), session.Session{ClassID: "cs101", TeacherID: "teacher-1", StartTime: now, EndTime: now.Add(time.Hour)})
	require.NoError(t, err)
	student := api.token("s1", auth.RoleStudent)
	body := gin.H{"latitude": room.Latitude, "longitude": room.Longitude}

	w := api.do(http.MethodPost, "/v1/sessions/"+s.ID+"/attendance", student, body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode(t, w)["error"], "session not active")

	w = api.do(http.MethodPost, "/v1/sessions/missing/attendance", student, body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetClassLocationEndpoint(t *testing.T) {
	api := newTestAPI(t)
	admin := api.token("root", auth.RoleAdmin)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{name: "valid", body: gin.H{"latitude": 12.9, "longitude": 77.6, "radius": 40, "room": "B-204"}, want: http.StatusOK},
		{name: "zone swallows proxy band", body: gin.H{"latitude": 12.9, "longitude": 77.6, "radius": 95}, want: http.StatusBadRequest},
		{name: "missing radius", body: gin.H{"latitude": 12.9, "longitude": 77.6}, want: http.StatusBadRequest},
		{name: "bad longitude", body: gin.H{"latitude": 12.9, "longitude": 181, "radius": 40}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPut, "/v1/classes/ma201/location", admin, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := api.do(http.MethodGet, "/v1/classes/ma201", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "B-204", decode(t, w)["room"])

	w = api.do(http.MethodPut, "/v1/classes/ma201/location", api.token("teacher-1", auth.RoleTeacher), gin.H{"latitude": 1, "longitude": 1, "radius": 10})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestValidationErrorsUseJSONNames(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodPut, "/v1/classes/x/location", api.token("root", auth.RoleAdmin), gin.H{"latitude": 100, "longitude": 0, "radius": 10})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := decode(t, w)["fields"].(map[string]any)
	assert.Contains(t, fields, "latitude")
}

func TestDevTokenAndHealth(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodPost, "/v1/dev/token", "", gin.H{"subject": "s1", "role": "student"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	token := decode(t, w)["access_token"].(string)
	claims, err := auth.Parse(token, signingKey, issuer)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleStudent, claims.Role)

	w = api.do(http.MethodPost, "/v1/dev/token", "", gin.H{"subject": "s1", "role": "janitor"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["db"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrNotFound, http.StatusNotFound},
		{attendance.ErrClassNotFound, http.StatusNotFound},
		{verdict.ErrSessionNotActive, http.StatusConflict},
		{session.ErrInvalidTransition, http.StatusConflict},
		{verdict.ErrInvalidInput, http.StatusBadRequest},
		{verdict.ErrProxyUnreachable, http.StatusBadRequest},
		{errForbidden, http.StatusForbidden},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
	"coachroom/internal/core/services"
	"coachroom/internal/infrastructure/events"
	"coachroom/internal/infrastructure/media"
	"coachroom/internal/infrastructure/middleware"
	"coachroom/internal/infrastructure/monitoring"
	"coachroom/internal/infrastructure/repositories/memory"
	"coachroom/internal/infrastructure/upload"
	"coachroom/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	router  *gin.Engine
	devices *media.DeviceManager
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t).Sugar()

	authService, err := services.NewAuthService(services.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
		DemoUserID:      "1",
		DemoEmail:       "demo@example.com",
		DemoName:        "Demo User",
		DemoPassword:    "demo",
		BcryptCost:      bcrypt.MinCost,
	}, memory.NewIdentityRepository(nil, 0), nil, log)
	require.NoError(t, err)

	hub := events.NewHub(32, log)
	streamer := events.NewStreamer(hub, events.DefaultStreamerConfig(), log)
	metrics := services.NewMetricsService(nil)

	granted := media.DeviceSettings{Present: true, Permission: media.PermissionGranted}
	devices := media.NewDeviceManager(media.DeviceManagerConfig{Camera: granted, Microphone: granted}, log)
	sessions := services.NewSessionService(
		services.SessionServiceConfig{ProbeGrace: 5 * time.Second, MaxPerOwner: 5},
		devices,
		media.NewRecorderFactory(nil, log),
		func(id domain.SessionID) ports.PreviewSink { return media.NewPreviewSlot(id, log) },
		hub, metrics, nil, log,
	)
	uploader := upload.NewSimulatedUploader(upload.SimulatedConfig{Step: 50, Interval: time.Millisecond}, log)
	uploads := services.NewUploadService(services.UploadConfig{MaxSize: validation.MaxDocumentSize, Timeout: 5 * time.Second}, uploader, hub, metrics, nil, log)
	t.Cleanup(func() {
		sessions.CloseAll()
		uploads.Close()
		hub.Close()
	})

	checker := monitoring.NewHealthChecker()
	checker.AddCapacityCheck("sessions", sessions.Count, 100)

	router := NewRouter(RouterConfig{
		Auth:     NewAuthHandler(authService, log),
		Sessions: NewSessionHandler(sessions, streamer),
		Uploads:  NewUploadHandler(uploads, streamer, 0),
		Health: NewHealthHandler(checker, StatsSource{
			Metrics:       metrics,
			EventsDropped: hub.Dropped,
			ActiveStreams: streamer.Active,
		}, nil),
		RequireAuth: middleware.AuthMiddleware(authService),
		Logger:      log,
	})

	srv := &testServer{router: router, devices: devices}
	srv.token = srv.login(t)
	return srv
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"demo@example.com","password":"demo"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Tokens  struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	return resp.Tokens.AccessToken
}

func (s *testServer) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) authed(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, s.token)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type sessionBody struct {
	Session domain.SessionSnapshot `json:"session"`
}

type errorBody struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
}

func (s *testServer) openSession(t *testing.T, flow string) domain.SessionID {
	t.Helper()
	w := s.authed(t, http.MethodPost, "/api/v1/sessions", `{"flow":"`+flow+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[sessionBody](t, w).Session.ID
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"demo@example.com","password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	rejected := decode[LoginResponse](t, w)
	assert.False(t, rejected.Success)
	assert.Equal(t, "Invalid credentials", rejected.Error)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"not-an-email","password":"demo"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.authed(t, http.MethodGet, "/api/v1/auth/me", "")
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[struct {
		User domain.Identity `json:"user"`
	}](t, w)
	assert.Equal(t, domain.Identity{ID: "1", Email: "demo@example.com", Name: "Demo User"}, me.User)

	w = s.do(t, http.MethodGet, "/api/v1/sessions/x", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[errorBody](t, w).Error)

	w = s.authed(t, http.MethodPost, "/api/v1/auth/logout", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = s.authed(t, http.MethodGet, "/api/v1/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionRoutes_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.openSession(t, "room")
	base := "/api/v1/sessions/" + string(id)

	w := s.authed(t, http.MethodPost, base+"/probe", "")
	require.Equal(t, http.StatusOK, w.Code)
	probe := decode[struct {
		Equipment domain.EquipmentStatus `json:"equipment"`
		Ready     bool                   `json:"ready"`
	}](t, w)
	assert.True(t, probe.Ready)
	assert.True(t, probe.Equipment.Network)

	w = s.authed(t, http.MethodPost, base+"/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[struct {
		Recording domain.RecordingSession `json:"recording"`
	}](t, w)
	assert.Equal(t, domain.StateRecording, rec.Recording.State)

	w = s.authed(t, http.MethodPost, base+"/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", decode[errorBody](t, w).Error)

	w = s.authed(t, http.MethodGet, base+"/clock", "")
	require.Equal(t, http.StatusOK, w.Code)
	clock := decode[ClockResponse](t, w)
	assert.Equal(t, domain.StateRecording, clock.State)
	assert.Equal(t, "00:00", clock.Display)

	w = s.authed(t, http.MethodPost, base+"/reset", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.authed(t, http.MethodPost, base+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	stopped := decode[struct {
		Summary domain.SessionSummary `json:"summary"`
	}](t, w)
	assert.Equal(t, id, stopped.Summary.SessionID)
	assert.NotNil(t, stopped.Summary.StoppedAt)

	w = s.authed(t, http.MethodPost, base+"/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.authed(t, http.MethodPost, base+"/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StateIdle, decode[sessionBody](t, w).Session.State)

	w = s.authed(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.authed(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	acquired, released := s.devices.Counts()
	assert.Equal(t, acquired, released)
}

func TestSessionRoutes_MediaDenied(t *testing.T) {
	s := newTestServer(t)
	id := s.openSession(t, "lobby")
	s.devices.SetPermission(domain.TrackAudio, media.PermissionDenied)

	w := s.authed(t, http.MethodPost, "/api/v1/sessions/"+string(id)+"/probe", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready":false`)

	w = s.authed(t, http.MethodPost, "/api/v1/sessions/"+string(id)+"/start", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, "MEDIA_UNAVAILABLE", body.Error)
	assert.Equal(t, string(domain.MediaPermissionDenied), body.Details["media_error"])

	// the granted camera was handed back
	assert.Equal(t, 0, s.devices.Holders(domain.TrackVideo))

	w = s.authed(t, http.MethodGet, "/api/v1/sessions/"+string(id), "")
	assert.Equal(t, domain.StateIdle, decode[sessionBody](t, w).Session.State)
}

func TestSessionRoutes_Validation(t *testing.T) {
	s := newTestServer(t)

	w := s.authed(t, http.MethodPost, "/api/v1/sessions", `{"flow":"kitchen"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.authed(t, http.MethodPost, "/api/v1/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.authed(t, http.MethodGet, "/api/v1/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	id := s.openSession(t, "room")
	w = s.authed(t, http.MethodPost, "/api/v1/sessions/"+string(id)+"/next", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSessionRoutes_NextQuestion(t *testing.T) {
	s := newTestServer(t)
	id := s.openSession(t, "practice")

	w := s.authed(t, http.MethodPost, "/api/v1/sessions/"+string(id)+"/next", "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[sessionBody](t, w).Session
	assert.Equal(t, 1, snap.QuestionIndex)
	assert.Equal(t, domain.QuestionsFor(domain.FlowPractice)[1], snap.Question)
}

func TestSessionRoutes_EventStream(t *testing.T) {
	s := newTestServer(t)
	id := s.openSession(t, "room")

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + string(id) + "/events?access_token=" + s.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() domain.Event {
		var ev domain.Event
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	initial := read()
	assert.Equal(t, domain.EventStateChanged, initial.Type)
	assert.Equal(t, domain.StateIdle, initial.State)

	w := s.authed(t, http.MethodPost, "/api/v1/sessions/"+string(id)+"/start", "")
	require.Equal(t, http.StatusOK, w.Code)

	var states []domain.SessionState
	for len(states) < 3 {
		ev := read()
		if ev.Type == domain.EventStateChanged {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []domain.SessionState{domain.StateAcquiring, domain.StateReady, domain.StateRecording}, states)

	w = s.authed(t, http.MethodDelete, "/api/v1/sessions/"+string(id), "")
	require.Equal(t, http.StatusNoContent, w.Code)
	for {
		ev := read()
		if ev.Type == domain.EventSessionClosed {
			break
		}
	}
}

func TestUploadRoutes(t *testing.T) {
	s := newTestServer(t)

	submit := func(name, contentType string, data []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("job_description", "Senior Go engineer"))
		if name != "" {
			header := make(map[string][]string)
			header["Content-Disposition"] = []string{`form-data; name="cv"; filename="` + name + `"`}
			header["Content-Type"] = []string{contentType}
			part, err := mw.CreatePart(header)
			require.NoError(t, err)
			_, err = part.Write(data)
			require.NoError(t, err)
		}
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+s.token)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	w := submit("", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = submit("cv.png", "image/png", []byte("png"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, validation.DocumentTypeMessage, decode[errorBody](t, w).Message)

	w = submit("cv.pdf", "application/pdf", make([]byte, validation.MaxDocumentSize+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, validation.DocumentSizeMessage, decode[errorBody](t, w).Message)

	w = submit("cv.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	task := decode[struct {
		Upload domain.UploadTask `json:"upload"`
	}](t, w).Upload
	assert.Equal(t, "Senior Go engineer", task.JobDescription)

	require.Eventually(t, func() bool {
		w := s.authed(t, http.MethodGet, "/api/v1/uploads/"+string(task.ID), "")
		if w.Code != http.StatusOK {
			return false
		}
		var got struct {
			Upload domain.UploadTask `json:"upload"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			return false
		}
		return got.Upload.State == domain.UploadSucceeded && got.Upload.Progress == 100
	}, 2*time.Second, 10*time.Millisecond)

	w = s.authed(t, http.MethodGet, "/api/v1/uploads/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = s.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	status := decode[monitoring.HealthStatus](t, w)
	assert.Equal(t, "healthy", status.Checks["sessions"])

	s.openSession(t, "room")
	w = s.authed(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[StatsResponse](t, w)
	assert.Equal(t, 1, stats.OpenContexts)

	w = s.do(t, http.MethodGet, "/api/v1/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

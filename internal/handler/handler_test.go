package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-credentials/internal/credential"
	"github.com/iliyamo/event-credentials/internal/handler"
	"github.com/iliyamo/event-credentials/internal/metrics"
	"github.com/iliyamo/event-credentials/internal/middleware"
	"github.com/iliyamo/event-credentials/internal/repository"
	"github.com/iliyamo/event-credentials/internal/router"
	"github.com/iliyamo/event-credentials/internal/service"
	"github.com/iliyamo/event-credentials/internal/utils"
)

const jwtSecret = "handler-test-jwt"

type invalidations struct {
	mu     sync.Mutex
	events []uint64
}

func (i *invalidations) InvalidateEvent(_ context.Context, eventID uint64) {
	i.mu.Lock()
	i.events = append(i.events, eventID)
	i.mu.Unlock()
}

type server struct {
	e     *echo.Echo
	inval *invalidations
	staff string
	admin string
}

func newServer(t *testing.T, maxImport int64) *server {
	t.Helper()
	issuer, verifier, err := credential.New(credential.Config{
		Secret:        []byte("handler-test-secret-0123456789"),
		KDFIterations: 1000,
	})
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	inv := service.NewInventory(store, logger)
	ledger := service.NewLedger(store, verifier, inv, nil, logger, m)
	importer := service.NewImporter(store, issuer, nil, logger, m, 10, 0)
	inval := &invalidations{}
	h := handler.New(ledger, inv, importer, inval, maxImport, logger)

	e := echo.New()
	router.RegisterRoutes(e, nil, reg)
	router.RegisterAPI(e, h, jwtSecret, nil, nil)

	staff, err := utils.NewStaffToken(jwtSecret, "desk-1", middleware.RoleStaff, time.Hour)
	require.NoError(t, err)
	admin, err := utils.NewStaffToken(jwtSecret, "admin-1", middleware.RoleAdmin, time.Hour)
	require.NoError(t, err)
	return &server{e: e, inval: inval, staff: staff.Token, admin: admin.Token}
}

func (s *server) do(method, path, bearer, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *server) json(method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	return s.do(method, path, bearer, echo.MIMEApplicationJSON, &buf)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// admit registers one attendee and returns its id and token.
func (s *server) admit(t *testing.T, email string) (uint64, string) {
	t.Helper()
	rec := s.json(http.MethodPost, "/v1/events/7/attendees", s.admin, echo.Map{
		"name": "Grace Hopper", "email": email, "phone": "555-0101", "role": "speaker",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ad service.Admission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ad))
	return ad.Attendee.ID, ad.Token.Value
}

func TestCheckIn_FirstThenDuplicate(t *testing.T) {
	s := newServer(t, 0)
	_, token := s.admit(t, "grace@example.com")

	first := s.json(http.MethodPost, "/v1/events/7/checkin", s.staff, echo.Map{"token": token, "location": "gate-a"})
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	body := decode(t, first)
	assert.Equal(t, false, body["duplicate"])
	assert.Equal(t, "VERIFIED", body["assurance"])

	again := s.json(http.MethodPost, "/v1/events/7/checkin", s.staff, echo.Map{"identifier": "GRACE@example.com", "location": "gate-b"})
	require.Equal(t, http.StatusOK, again.Code)
	dup := decode(t, again)
	assert.Equal(t, true, dup["duplicate"])
	assert.Equal(t, body["checked_in_at"], dup["checked_in_at"])
	assert.Equal(t, "gate-a", dup["location"])
}

func TestCheckIn_Rejections(t *testing.T) {
	s := newServer(t, 0)
	_, token := s.admit(t, "grace@example.com")

	tests := []struct {
		name   string
		bearer string
		body   echo.Map
		path   string
		status int
	}{
		{"no bearer", "", echo.Map{"token": token}, "/v1/events/7/checkin", http.StatusUnauthorized},
		{"empty presentation", s.staff, echo.Map{"location": "gate"}, "/v1/events/7/checkin", http.StatusBadRequest},
		{"both token and identifier", s.staff, echo.Map{"token": token, "identifier": "x@example.com"}, "/v1/events/7/checkin", http.StatusBadRequest},
		{"bad date", s.staff, echo.Map{"token": token, "date": "07/06/2026"}, "/v1/events/7/checkin", http.StatusBadRequest},
		{"garbage token", s.staff, echo.Map{"token": "not-a-token"}, "/v1/events/7/checkin", http.StatusUnauthorized},
		{"unknown attendee", s.staff, echo.Map{"identifier": "nobody@example.com"}, "/v1/events/7/checkin", http.StatusNotFound},
		{"other event", s.staff, echo.Map{"token": token}, "/v1/events/8/checkin", http.StatusNotFound},
		{"bad event id", s.staff, echo.Map{"token": token}, "/v1/events/zero/checkin", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.json(http.MethodPost, tc.path, tc.bearer, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestClaim_Lifecycle(t *testing.T) {
	s := newServer(t, 0)
	rec := s.json(http.MethodPut, "/v1/events/7/resources/lunch", s.admin, echo.Map{"total": 1, "low_threshold": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []uint64{7}, s.inval.events)

	_, t1 := s.admit(t, "a@example.com")
	_, t2 := s.admit(t, "b@example.com")

	claim := func(token string) *httptest.ResponseRecorder {
		return s.json(http.MethodPost, "/v1/events/7/claims/lunch", s.staff, echo.Map{"token": token, "location": "hall"})
	}

	assert.Equal(t, http.StatusConflict, claim(t1).Code, "claim before check-in")

	for _, tok := range []string{t1, t2} {
		require.Equal(t, http.StatusOK, s.json(http.MethodPost, "/v1/events/7/checkin", s.staff, echo.Map{"token": tok}).Code)
	}

	ok := claim(t1)
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	body := decode(t, ok)
	assert.Equal(t, float64(0), body["remaining"])
	assert.Equal(t, true, body["is_low"])

	dup := claim(t1)
	require.Equal(t, http.StatusOK, dup.Code)
	assert.Equal(t, true, decode(t, dup)["duplicate"])

	assert.Equal(t, http.StatusGone, claim(t2).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.json(http.MethodPost, "/v1/events/7/claims/Not%20A%20Type", s.staff, echo.Map{"token": t2}).Code)
	assert.Equal(t, http.StatusNotFound,
		s.json(http.MethodPost, "/v1/events/7/claims/swag", s.staff, echo.Map{"token": t2}).Code)
}

func TestResources_AdminOnlyWrites(t *testing.T) {
	s := newServer(t, 0)
	assert.Equal(t, http.StatusForbidden,
		s.json(http.MethodPut, "/v1/events/7/resources/kit", s.staff, echo.Map{"total": 5}).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.json(http.MethodPut, "/v1/events/7/resources/kit", s.admin, echo.Map{"low_threshold": 1}).Code)

	rec := s.json(http.MethodPut, "/v1/events/7/resources/kit", s.admin, echo.Map{"total": 5, "low_threshold": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	id := uint64(decode(t, rec)["id"].(float64))

	patch := s.json(http.MethodPatch, fmt.Sprintf("/v1/events/7/resources/id/%d/threshold", id), s.admin, echo.Map{"low_threshold": 5})
	require.Equal(t, http.StatusOK, patch.Code, patch.Body.String())
	assert.Equal(t, true, decode(t, patch)["is_low"])
	assert.Equal(t, http.StatusBadRequest,
		s.json(http.MethodPatch, fmt.Sprintf("/v1/events/7/resources/id/%d/threshold", id), s.admin, echo.Map{"low_threshold": -1}).Code)
	assert.Equal(t, http.StatusNotFound,
		s.json(http.MethodPatch, "/v1/events/7/resources/id/999/threshold", s.admin, echo.Map{"low_threshold": 1}).Code)

	list := s.do(http.MethodGet, "/v1/events/7/resources", s.staff, "", nil)
	require.Equal(t, http.StatusOK, list.Code)
	res := decode(t, list)["resources"].([]interface{})
	require.Len(t, res, 1)
	assert.Equal(t, "kit", res[0].(map[string]interface{})["type"])
	assert.Len(t, s.inval.events, 2)
}

const csvBody = "Name,Email,Phone,Role\n" +
	"Ada,ada@example.com,1,attendee\n" +
	"Ada Again,ADA@example.com,1,attendee\n" +
	"No Mail,,1,attendee\n" +
	"Bob,bob@example.com,2,speaker\n"

func TestImport_Multipart(t *testing.T) {
	s := newServer(t, 0)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "attendees.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(csvBody))
	require.NoError(t, mw.Close())

	rec := s.do(http.MethodPost, "/v1/events/7/import", s.admin, mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report service.ImportReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Success)
	assert.Equal(t, service.ImportStats{TotalProcessed: 4, Successful: 2, Duplicates: 1, Invalid: 1}, report.Stats)
}

func TestImport_RawCSV(t *testing.T) {
	s := newServer(t, 0)
	rec := s.do(http.MethodPost, "/v1/events/7/import?notify=true", s.admin, "text/csv", strings.NewReader(csvBody))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode(t, rec)["stats"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["successful"])

	assert.Equal(t, http.StatusBadRequest,
		s.do(http.MethodPost, "/v1/events/7/import", s.admin, "text/csv", strings.NewReader("name,email\nA,a@example.com\n")).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(http.MethodPost, "/v1/events/7/import?notify=maybe", s.admin, "text/csv", strings.NewReader(csvBody)).Code)
	assert.Equal(t, http.StatusForbidden,
		s.do(http.MethodPost, "/v1/events/7/import", s.staff, "text/csv", strings.NewReader(csvBody)).Code)
}

func TestImport_TooLarge(t *testing.T) {
	s := newServer(t, 64)
	big := csvBody + strings.Repeat("Zed,zed@example.com,3,attendee\n", 10)
	rec := s.do(http.MethodPost, "/v1/events/7/import", s.admin, "text/csv", strings.NewReader(big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
}

func TestAttendeeReads(t *testing.T) {
	s := newServer(t, 0)
	id, token := s.admit(t, "grace@example.com")
	assert.Equal(t, http.StatusConflict, s.json(http.MethodPost, "/v1/events/7/attendees", s.admin, echo.Map{
		"name": "Dup", "email": "grace@example.com", "phone": "1", "role": "attendee",
	}).Code)
	require.Equal(t, http.StatusOK, s.json(http.MethodPost, "/v1/events/7/checkin", s.staff, echo.Map{"token": token}).Code)

	snap := s.do(http.MethodGet, fmt.Sprintf("/v1/events/7/attendees/%d", id), s.staff, "", nil)
	require.Equal(t, http.StatusOK, snap.Code)
	assert.Equal(t, true, decode(t, snap)["checked_in"])

	hist := s.do(http.MethodGet, fmt.Sprintf("/v1/events/7/attendees/%d/history", id), s.staff, "", nil)
	require.Equal(t, http.StatusOK, hist.Code)
	assert.Len(t, decode(t, hist)["activities"], 2)

	qr := s.do(http.MethodGet, fmt.Sprintf("/v1/events/7/attendees/%d/qr?size=128", id), s.admin, "", nil)
	require.Equal(t, http.StatusOK, qr.Code)
	assert.Equal(t, "image/png", qr.Header().Get(echo.HeaderContentType))
	assert.True(t, bytes.HasPrefix(qr.Body.Bytes(), []byte("\x89PNG")))

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, fmt.Sprintf("/v1/events/7/attendees/%d/qr", id), s.staff, "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, fmt.Sprintf("/v1/events/7/attendees/%d/qr?size=9", id), s.admin, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/events/7/attendees/999", s.staff, "", nil).Code)
}

func TestOperationalRoutes(t *testing.T) {
	s := newServer(t, 0)
	rec := s.do(http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	_, token := s.admit(t, "m@example.com")
	s.json(http.MethodPost, "/v1/events/7/checkin", s.staff, echo.Map{"token": token})
	metricsRec := s.do(http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "checkins_total")
}

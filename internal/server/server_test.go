package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mithileshchellappan/pushrelay/internal/delivery"
	"github.com/mithileshchellappan/pushrelay/internal/service"
	"github.com/mithileshchellappan/pushrelay/internal/storage"
	"github.com/mithileshchellappan/pushrelay/internal/storage/storagetest"
)

const testKey = "s3cret"

type fakeGateway struct {
	mu        sync.Mutex
	single    []string
	singleMsg []delivery.Message
	multi     [][]string
	multiMsg  []delivery.Message
	err       error
}

func (g *fakeGateway) Send(ctx context.Context, token string, msg delivery.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.single = append(g.single, token)
	g.singleMsg = append(g.singleMsg, msg)
	return "projects/p/messages/42", nil
}

func (g *fakeGateway) SendMulticast(ctx context.Context, tokens []string, msg delivery.Message) (delivery.MulticastResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return delivery.MulticastResult{}, g.err
	}
	g.multi = append(g.multi, tokens)
	g.multiMsg = append(g.multiMsg, msg)
	return delivery.MulticastResult{SuccessCount: len(tokens)}, nil
}

type staticBackend struct {
	relay *service.RelayService
	err   error
}

func (b staticBackend) Relay(ctx context.Context) (*service.RelayService, error) {
	return b.relay, b.err
}

type harness struct {
	mem *storagetest.Memory
	gw  *fakeGateway
	srv *Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := storagetest.NewMemory()
	gw := &fakeGateway{}
	relay := service.NewRelayService(mem, gw, service.Options{DeliveryConcurrency: 1, LookupConcurrency: 2}, zerolog.Nop())
	srv := New(staticBackend{relay: relay}, Options{APIKey: testKey, ServiceName: "test-push"}, zerolog.Nop())
	srv.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return &harness{mem: mem, gw: gw, srv: srv}
}

func (h *harness) do(t *testing.T, method, path, body string, key string) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodGet, "/", "", testKey)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "test-push", body["service"])
	assert.Equal(t, "2026-01-02T03:04:05.000Z", body["now"])
}

func TestAuth(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/send", `{"to":"tok1"}`, "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "Unauthorized", body["error"])

	code, _ = h.do(t, http.MethodPost, "/send", `{"to":"tok1"}`, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(t, http.MethodPost, "/send?key="+testKey, `{"to":"tok1"}`, "")
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("api_key", testKey)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSend(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/send", `{"to":"tok1","title":"Hi","data":{"n":3,"o":{"a":1}}}`, testKey)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "projects/p/messages/42", body["id"])
	require.Len(t, h.gw.singleMsg, 1)
	assert.Equal(t, "Hi", h.gw.singleMsg[0].Title)
	assert.Equal(t, "3", h.gw.singleMsg[0].Data["n"])
	assert.Equal(t, `{"a":1}`, h.gw.singleMsg[0].Data["o"])
}

func TestSendDefaultsTitle(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(t, http.MethodPost, "/send", `{"to":"tok1"}`, testKey)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Notification", h.gw.singleMsg[0].Title)
	assert.Equal(t, "", h.gw.singleMsg[0].Body)
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t)
	for _, body := range []string{`{"title":"Hi"}`, `{"to":5}`, `{"to":""}`, `not json`, ``} {
		code, resp := h.do(t, http.MethodPost, "/send", body, testKey)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Equal(t, false, resp["ok"])
	}
	assert.Empty(t, h.gw.single)
}

func TestSendGatewayFailure(t *testing.T) {
	h := newHarness(t)
	h.gw.err = errors.New("registration-token-not-registered")
	code, body := h.do(t, http.MethodPost, "/send", `{"to":"tok1"}`, testKey)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body["error"], "registration-token-not-registered")
}

func TestSendAdmins(t *testing.T) {
	h := newHarness(t)
	h.mem.AddToken(storage.PushToken{OwnerID: "a1", Role: storage.RoleAdmin, Token: "t1", Email: "me@firm.com"})
	h.mem.AddToken(storage.PushToken{OwnerID: "a2", Role: storage.RoleAdmin, Token: "t2"})
	h.mem.AddToken(storage.PushToken{OwnerID: "a3", Role: storage.RoleAdmin, Token: "t3"})

	code, body := h.do(t, http.MethodPost, "/send_admins", `{"title":"T","excludeUid":"a3"}`, testKey)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(2), body["success"])
	assert.Equal(t, float64(0), body["failure"])
	assert.Equal(t, [][]string{{"t1", "t2"}}, h.gw.multi)
}

func TestSendAdminsChatForm(t *testing.T) {
	h := newHarness(t)
	h.mem.AddToken(storage.PushToken{OwnerID: "a1", Role: storage.RoleAdmin, Token: "t1", Email: "Me@Firm.com"})
	h.mem.AddToken(storage.PushToken{OwnerID: "a2", Role: storage.RoleAdmin, Token: "t2"})

	long := strings.Repeat("ب", 150)
	code, body := h.do(t, http.MethodPost, "/send_admins", `{"senderEmail":"me@firm.com","text":"`+long+`"}`, testKey)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])

	require.Len(t, h.gw.multiMsg, 1)
	msg := h.gw.multiMsg[0]
	assert.Equal(t, "رسالة جديدة في شات الأدمنية", msg.Title)
	assert.Equal(t, 120, len([]rune(msg.Body)))
	assert.Equal(t, "admin_chat", msg.Data["type"])
	assert.Equal(t, "me@firm.com", msg.Data["senderEmail"])
}

func TestSendAdminsEmptySetIsZero(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodPost, "/send_admins", `{}`, testKey)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["total"])
	assert.Empty(t, h.gw.multi)
}

func TestSendAdminsStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.mem.FailOn["TokensByRole"] = errors.New("deadline exceeded")
	code, body := h.do(t, http.MethodPost, "/send_admins", `{}`, testKey)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["ok"])
}

func TestSendUsernames(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser("o1", "ali", storage.RoleLawyer, "tAli")

	code, body := h.do(t, http.MethodPost, "/send_usernames", `{"usernames":["Ali","ghost"],"title":"x"}`, testKey)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(1), body["success"])
	assert.Equal(t, float64(1), body["unresolved"])

	for _, b := range []string{`{"usernames":[]}`, `{}`, `{"usernames":[" "]}`} {
		code, _ = h.do(t, http.MethodPost, "/send_usernames", b, testKey)
		assert.Equal(t, http.StatusBadRequest, code, b)
	}
}

func TestTaskEventCreated(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser("o1", "ali", storage.RoleLawyer, "tAli")

	code, body := h.do(t, http.MethodPost, "/task-event",
		`{"type":"created","taskId":"t1","after":{"visibleTo":["ali"],"title":"Draft contract"}}`, testKey)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["sent"])
	assert.Equal(t, "created", body["classification"])

	notes := h.mem.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "ali", notes[0].ToUsername)
	assert.Equal(t, [][]string{{"tAli"}}, h.gw.multi)
}

func TestTaskEventCompleted(t *testing.T) {
	h := newHarness(t)
	h.mem.AddToken(storage.PushToken{OwnerID: "a1", Role: storage.RoleAdmin, Token: "tA"})

	code, body := h.do(t, http.MethodPost, "/task-event",
		`{"type":"updated","taskId":"t1","before":{"status":"open"},"after":{"status":"completed"}}`, testKey)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["sent"])
	assert.Equal(t, "completed", body["classification"])

	notes := h.mem.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "admin", notes[0].ToRole)
}

func TestTaskEventValidation(t *testing.T) {
	h := newHarness(t)
	cases := []string{
		`{"type":"deleted","taskId":"t1","after":{}}`,
		`{"type":"created","after":{}}`,
		`{"type":"created","taskId":"t1"}`,
		`{"taskId":"t1","after":{}}`,
		`{"type":"created","taskId":"t1","after":[]}`,
	}
	for _, b := range cases {
		code, body := h.do(t, http.MethodPost, "/task-event", b, testKey)
		assert.Equal(t, http.StatusBadRequest, code, b)
		assert.Equal(t, false, body["ok"])
	}
}

func TestBackendFailure(t *testing.T) {
	srv := New(staticBackend{err: errors.New("firebase init failed")}, Options{APIKey: testKey}, zerolog.Nop())
	h := &harness{srv: srv}
	code, body := h.do(t, http.MethodPost, "/send", `{"to":"tok"}`, testKey)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "firebase init failed", body["error"])
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodGet, "/nope", "", testKey)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["ok"])
}

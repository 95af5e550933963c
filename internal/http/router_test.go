package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/deadline-master/internal/config"
	"github.com/tbourn/deadline-master/internal/http/handlers"
	"github.com/tbourn/deadline-master/internal/repo"
	"github.com/tbourn/deadline-master/internal/services"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// --- recording notifier for the digest ---
type fakeNotifier struct {
	mu   sync.Mutex
	sent map[int64]string
}

func (n *fakeNotifier) Send(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = map[int64]string{}
	}
	n.sent[chatID] = text
	return nil
}

// --- test DB helper (pure-Go sqlite file, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "router_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   50,
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

// newServer wires real services over a fresh database.
func newServer(t *testing.T, cfg config.Config) (*gin.Engine, *fakeNotifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)

	tasks := services.NewTaskService(db, time.UTC, true)
	tasks.Now = func() time.Time { return fixedNow }
	n := &fakeNotifier{}
	digest := services.NewDigestService(db, n, time.UTC, 0, 1)
	digest.Now = func() time.Time { return fixedNow }

	r := gin.New()
	RegisterRoutes(r, handlers.New(services.NewCommandService(tasks, true), tasks, digest), cfg)
	return r, n
}

func call(r *gin.Engine, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newServer(t, baseConfig())

	w := call(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q", got)
	}

	w = call(r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	if w = call(r, http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w = call(r, http.MethodPost, "/health", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newServer(t, cfg)

	w := call(r, http.MethodGet, "/health", "", "Origin", "http://example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_OpsTokenGuardsAPI(t *testing.T) {
	cfg := baseConfig()
	cfg.Security.OpsToken = "s3cret"
	r, _ := newServer(t, cfg)

	if w := call(r, http.MethodGet, "/api/v1/users/1/tasks", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := call(r, http.MethodGet, "/api/v1/users/1/tasks", "", "Authorization", "Bearer nope"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", w.Code)
	}
	// authorized, but the user never contacted the bot
	if w := call(r, http.MethodGet, "/api/v1/users/1/tasks", "", "Authorization", "Bearer s3cret"); w.Code != http.StatusNotFound {
		t.Fatalf("good token: %d", w.Code)
	}
	// health stays open
	if w := call(r, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health: %d", w.Code)
	}
}

func TestRegisterRoutes_TaskLifecycle(t *testing.T) {
	r, n := newServer(t, baseConfig())

	// alice registers privately
	w := call(r, http.MethodPost, "/api/v1/commands",
		`{"chat":{"tg_chat_id":1},"from":{"tg_id":1,"username":"alice"},"text":"/start"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("/start: %d %s", w.Code, w.Body.String())
	}

	// bob assigns her a task due today in a group
	w = call(r, http.MethodPost, "/api/v1/commands",
		`{"chat":{"tg_chat_id":-100,"title":"Team","type":"supergroup"},"from":{"tg_id":2,"username":"bob"},"message_id":5,"text":"/task Отчёт до 10.03.2025 @alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("/task: %d %s", w.Code, w.Body.String())
	}
	var reply services.Reply
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(reply.Text, "#1") || len(reply.Notices) != 1 || reply.Notices[0].ChatID != 1 {
		t.Fatalf("reply: %+v", reply)
	}

	// her task view, then a conditional re-read
	w = call(r, http.MethodGet, "/api/v1/users/1/tasks?scope=today", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	var list handlers.ListTasksResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].Title != "Отчёт" || list.Tasks[0].ChatTitle != "Team" {
		t.Fatalf("tasks: %+v", list.Tasks)
	}
	etag := w.Header().Get("ETag")
	if w = call(r, http.MethodGet, "/api/v1/users/1/tasks?scope=today", "", "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("conditional: %d", w.Code)
	}

	// the digest reaches alice only
	w = call(r, http.MethodPost, "/api/v1/digest/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("digest: %d %s", w.Code, w.Body.String())
	}
	var rep services.DigestReport
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("json: %v", err)
	}
	if rep.Sent != 1 || rep.Failed != 0 {
		t.Fatalf("report: %+v", rep)
	}
	if txt, ok := n.sent[1]; !ok || !strings.Contains(txt, "Отчёт") {
		t.Fatalf("digest text: %q", n.sent)
	}

	// alice closes it; the open view changes and the etag no longer matches
	w = call(r, http.MethodPost, "/api/v1/commands",
		`{"chat":{"tg_chat_id":1},"from":{"tg_id":1,"username":"alice"},"text":"/done 1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("/done: %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(reply.Notices) != 1 || reply.Notices[0].ChatID != -100 {
		t.Fatalf("done notices: %+v", reply.Notices)
	}
	w = call(r, http.MethodGet, "/api/v1/users/1/tasks?scope=today", "", "If-None-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("after close: %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list.Tasks) != 0 {
		t.Fatalf("after close tasks: %+v %v", list.Tasks, err)
	}
}

func TestRegisterRoutes_GzipResponses(t *testing.T) {
	r, _ := newServer(t, baseConfig())
	w := call(r, http.MethodGet, "/health", "", "Accept-Encoding", "gzip")
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding=%q", got)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

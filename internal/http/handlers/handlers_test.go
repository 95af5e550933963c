package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/deadline-master/internal/domain"
	"github.com/tbourn/deadline-master/internal/services"
)

// ----- Fakes -----

type fakeCmd struct {
	got   services.Incoming
	reply *services.Reply
	err   error
}

func (f *fakeCmd) Handle(_ context.Context, in services.Incoming) (*services.Reply, error) {
	f.got = in
	return f.reply, f.err
}

type fakeTasks struct {
	today    domain.Date
	list     *services.TaskList
	listErr  error
	count    int64
	latest   *time.Time
	statsErr error
	listed   int
}

func (f *fakeTasks) Today() domain.Date { return f.today }

func (f *fakeTasks) ListByTgID(_ context.Context, _ int64, scope services.Scope) (*services.TaskList, error) {
	f.listed++
	if f.listErr != nil {
		return nil, f.listErr
	}
	l := *f.list
	l.Scope = scope
	return &l, nil
}

func (f *fakeTasks) OpenStats(context.Context, int64) (int64, *time.Time, error) {
	return f.count, f.latest, f.statsErr
}

type fakeDigest struct {
	report services.DigestReport
	err    error
}

func (f *fakeDigest) Run(context.Context) (services.DigestReport, error) { return f.report, f.err }

// ----- Helpers -----

func mustDate(t *testing.T, iso string) domain.Date {
	t.Helper()
	d, err := domain.ParseISODate(iso)
	if err != nil {
		t.Fatalf("date %q: %v", iso, err)
	}
	return d
}

func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/commands", h.ExecuteCommand)
	r.GET("/users/:tg_id/tasks", h.ListUserTasks)
	r.POST("/digest/run", h.RunDigest)
	return r
}

func do(r *gin.Engine, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	r.ServeHTTP(w, req)
	return w
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("error body: %v (%s)", err, w.Body.String())
	}
	return er.Code
}

// ----- Commands -----

func TestExecuteCommand_MapsPayloadAndReturnsReply(t *testing.T) {
	cmd := &fakeCmd{reply: &services.Reply{Text: "ok", Notices: []services.Outgoing{{ChatID: 2, Text: "n"}}}}
	r := newRouter(New(cmd, nil, nil))

	w := do(r, http.MethodPost, "/commands", `{"chat":{"tg_chat_id":-100,"title":"Team"},"from":{"tg_id":1,"username":"alice"},"message_id":5,"text":"/task X до 20.11 @bob"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if cmd.got.Chat.Type != domain.ChatGroup || cmd.got.Chat.TgChatID != -100 || *cmd.got.Chat.Title != "Team" {
		t.Fatalf("chat: %+v", cmd.got.Chat)
	}
	if cmd.got.From.TgID != 1 || *cmd.got.From.Username != "alice" || cmd.got.MessageID != 5 {
		t.Fatalf("incoming: %+v", cmd.got)
	}
	var reply services.Reply
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil || reply.Text != "ok" || len(reply.Notices) != 1 {
		t.Fatalf("reply: %+v %v", reply, err)
	}
}

func TestExecuteCommand_PrivateDefaultNoReplyAndErrors(t *testing.T) {
	cmd := &fakeCmd{}
	r := newRouter(New(cmd, nil, nil))

	if w := do(r, http.MethodPost, "/commands", `{"chat":{"tg_chat_id":7},"from":{"tg_id":7},"text":"hello"}`); w.Code != http.StatusNoContent {
		t.Fatalf("nil reply: status=%d", w.Code)
	}
	if cmd.got.Chat.Type != domain.ChatPrivate {
		t.Fatalf("type=%q; want private", cmd.got.Chat.Type)
	}

	for _, body := range []string{
		`{`,
		`{"chat":{"tg_chat_id":7},"from":{"tg_id":7}}`,
		`{"chat":{"tg_chat_id":7},"from":{},"text":"/my"}`,
		`{"chat":{"tg_chat_id":7,"type":"forum"},"from":{"tg_id":7},"text":"/my"}`,
	} {
		if w := do(r, http.MethodPost, "/commands", body); w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeBadRequest {
			t.Fatalf("body %s: status=%d", body, w.Code)
		}
	}

	cmd.err = errors.New("db down")
	w := do(r, http.MethodPost, "/commands", `{"chat":{"tg_chat_id":7},"from":{"tg_id":7},"text":"/my"}`)
	if w.Code != http.StatusInternalServerError || errCode(t, w) != ErrCodeCommandFailed {
		t.Fatalf("failure: status=%d", w.Code)
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Fatalf("internal error leaked: %s", w.Body.String())
	}
}

// ----- Task lists -----

func taskWorld(t *testing.T) *fakeTasks {
	today := mustDate(t, "2025-03-10")
	title := "Team"
	latest := time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC)
	return &fakeTasks{
		today:  today,
		count:  3,
		latest: &latest,
		list: &services.TaskList{
			Today: today,
			Tasks: []domain.Task{
				{ID: 1, ChatID: 9, Title: "Old", Deadline: mustDate(t, "2025-03-01"), Status: domain.StatusOpen},
				{ID: 2, ChatID: 9, Title: "Now", Deadline: today, Status: domain.StatusOpen},
				{ID: 3, ChatID: 9, Title: "Later", Deadline: mustDate(t, "2025-03-15"), Status: domain.StatusOpen},
			},
			Chats: map[int64]domain.Chat{9: {ID: 9, Title: &title}},
		},
	}
}

func TestListUserTasks_PageAndETag(t *testing.T) {
	tasks := taskWorld(t)
	r := newRouter(New(nil, tasks, nil))

	w := do(r, http.MethodGet, "/users/42/tasks?scope=week&page=2&page_size=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ListTasksResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Scope != services.ScopeWeek || resp.Today.String() != "2025-03-10" {
		t.Fatalf("resp: %+v", resp)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].ID != 3 || resp.Tasks[0].ChatTitle != "Team" || resp.Tasks[0].Overdue {
		t.Fatalf("page: %+v", resp.Tasks)
	}
	if resp.Pagination.Total != 3 || resp.Pagination.TotalPages != 2 || resp.Pagination.HasNext {
		t.Fatalf("pagination: %+v", resp.Pagination)
	}
	if !strings.Contains(resp.Text, "#1 — Old") {
		t.Fatalf("text should render the whole list: %q", resp.Text)
	}

	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"tasks:42:week:2025-03-10:3:`) {
		t.Fatalf("etag=%q", etag)
	}
	w = do(r, http.MethodGet, "/users/42/tasks?scope=week&page=2&page_size=2", "", "If-None-Match", etag)
	if w.Code != http.StatusNotModified || tasks.listed != 1 {
		t.Fatalf("conditional: status=%d listed=%d", w.Code, tasks.listed)
	}
}

func TestListUserTasks_OverdueFlagDefaultScope(t *testing.T) {
	r := newRouter(New(nil, taskWorld(t), nil))
	w := do(r, http.MethodGet, "/users/42/tasks", "")
	var resp ListTasksResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Scope != services.ScopeOpen || len(resp.Tasks) != 3 || !resp.Tasks[0].Overdue || resp.Tasks[1].Overdue {
		t.Fatalf("resp: %+v", resp)
	}
}

func TestListUserTasks_HugePageIsEmpty(t *testing.T) {
	r := newRouter(New(nil, taskWorld(t), nil))
	w := do(r, http.MethodGet, "/users/42/tasks?page=4611686018427387904&page_size=4", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ListTasksResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Tasks) != 0 || resp.Pagination.Total != 3 || resp.Pagination.HasNext {
		t.Fatalf("resp: %+v", resp)
	}
}

func TestListUserTasks_Errors(t *testing.T) {
	tasks := taskWorld(t)
	r := newRouter(New(nil, tasks, nil))

	if w := do(r, http.MethodGet, "/users/abc/tasks", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/users/42/tasks?scope=month", ""); w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeUnknownScope {
		t.Fatalf("bad scope: %d", w.Code)
	}

	tasks.statsErr = services.ErrUserNotFound
	if w := do(r, http.MethodGet, "/users/42/tasks", ""); w.Code != http.StatusNotFound || errCode(t, w) != ErrCodeUserNotFound {
		t.Fatalf("unknown user: %d", w.Code)
	}

	tasks.statsErr = errors.New("stats down")
	tasks.listErr = errors.New("list down")
	w := do(r, http.MethodGet, "/users/42/tasks", "")
	if w.Code != http.StatusInternalServerError || errCode(t, w) != ErrCodeListFailed || w.Header().Get("ETag") != "" {
		t.Fatalf("list failure: %d etag=%q", w.Code, w.Header().Get("ETag"))
	}
}

// ----- Digest -----

func TestRunDigest(t *testing.T) {
	r := newRouter(New(nil, nil, nil))
	if w := do(r, http.MethodPost, "/digest/run", ""); w.Code != http.StatusServiceUnavailable || errCode(t, w) != ErrCodeDigestUnavailable {
		t.Fatalf("no runner: %d", w.Code)
	}

	d := &fakeDigest{report: services.DigestReport{Date: mustDate(t, "2025-03-10"), Recipients: 3, Sent: 2, Failed: 1}}
	r = newRouter(New(nil, nil, d))
	w := do(r, http.MethodPost, "/digest/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var rep services.DigestReport
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil || rep != d.report {
		t.Fatalf("report: %+v %v", rep, err)
	}

	d.err = context.Canceled
	if w := do(r, http.MethodPost, "/digest/run", ""); w.Code != http.StatusInternalServerError || errCode(t, w) != ErrCodeDigestFailed {
		t.Fatalf("failure: %d", w.Code)
	}
}

func TestPageBounds(t *testing.T) {
	cases := []struct{ total, page, size, lo, hi int }{
		{0, 1, 10, 0, 0},
		{5, 1, 2, 0, 2},
		{5, 3, 2, 4, 5},
		{5, 9, 2, 5, 5},
		{4, 3, 2, 4, 4},
		{3, 1 << 62, 4, 3, 3},
		{3, math.MaxInt, 200, 3, 3},
	}
	for _, c := range cases {
		if lo, hi := pageBounds(c.total, c.page, c.size); lo != c.lo || hi != c.hi {
			t.Fatalf("pageBounds(%d,%d,%d)=(%d,%d)", c.total, c.page, c.size, lo, hi)
		}
	}
}

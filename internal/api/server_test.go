package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/minutes/internal/agno"
	"github.com/kalambet/minutes/internal/counsel"
	"github.com/kalambet/minutes/internal/metrics"
	"github.com/kalambet/minutes/internal/storage"
	"github.com/kalambet/minutes/internal/summary"
	"github.com/kalambet/minutes/internal/task"
)

// fakeAgno imitates the remote agent backend.
type fakeAgno struct {
	mu sync.Mutex

	summaryStatus int
	summaryBody   string
	summaryGate   chan struct{}

	streamStatus int
	streamBody   string
	lastMessage  string

	uploadStatus int
	statuses     []string
	polls        int

	sessionStatus int
	sessionBody   string
	deleteStatus  int
}

func newFakeAgno() *fakeAgno {
	return &fakeAgno{
		summaryStatus: http.StatusOK,
		summaryBody:   `{"content":"# Minutes"}`,
		streamStatus:  http.StatusOK,
		uploadStatus:  http.StatusAccepted,
		statuses:      []string{"completed"},
		sessionStatus: http.StatusOK,
		sessionBody:   `{"chat_history":[]}`,
		deleteStatus:  http.StatusNoContent,
	}
}

func (f *fakeAgno) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/agents/summary-agent/runs":
		f.mu.Lock()
		gate, code, body := f.summaryGate, f.summaryStatus, f.summaryBody
		f.mu.Unlock()
		if gate != nil {
			<-gate
		}
		w.WriteHeader(code)
		fmt.Fprint(w, body)

	case r.URL.Path == "/agents/counselor-agent/runs":
		r.ParseForm()
		f.mu.Lock()
		f.lastMessage = r.PostForm.Get("message")
		code, body := f.streamStatus, f.streamBody
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(code)
		fmt.Fprint(w, body)

	case r.URL.Path == "/knowledge/content" && r.Method == http.MethodPost:
		w.WriteHeader(f.uploadStatus)
		fmt.Fprint(w, `{"id":"content-1"}`)

	case strings.HasPrefix(r.URL.Path, "/knowledge/content/"):
		f.mu.Lock()
		i := f.polls
		if i >= len(f.statuses) {
			i = len(f.statuses) - 1
		}
		f.polls++
		status := f.statuses[i]
		f.mu.Unlock()
		fmt.Fprintf(w, `{"status":%q}`, status)

	case strings.HasPrefix(r.URL.Path, "/sessions/") && r.Method == http.MethodGet:
		w.WriteHeader(f.sessionStatus)
		fmt.Fprint(w, f.sessionBody)

	case strings.HasPrefix(r.URL.Path, "/sessions/") && r.Method == http.MethodDelete:
		w.WriteHeader(f.deleteStatus)
		if f.deleteStatus != http.StatusNoContent {
			fmt.Fprint(w, `{"detail":"session not found"}`)
		}

	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	srv     *httptest.Server
	agno    *fakeAgno
	store   *storage.Store
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, fa *fakeAgno) *testEnv {
	t.Helper()

	backend := httptest.NewServer(fa)
	t.Cleanup(backend.Close)
	client := agno.New(backend.URL)

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := summary.NewService(summary.NewAgentGenerator(client, "summary-agent"))
	runner := task.NewRunner(task.NewRegistry(), svc, 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runner.Close(ctx)
	})

	m := metrics.New()
	h := NewHandler(Deps{
		Summarizer: svc,
		Tasks:      runner,
		Counsel: counsel.New(client, counsel.Options{
			AgentID:      "counselor-agent",
			KnowledgeDB:  "meeting_kb",
			PollInterval: 10 * time.Millisecond,
			Ledger:       store,
		}),
		Uploads:       store,
		Metrics:       m,
		UploadTimeout: time.Second,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, agno: fa, store: store, metrics: m}
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.PostForm(e.srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv(t, newFakeAgno())

	resp := env.do(t, http.MethodGet, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	health := decode[map[string]string](t, resp)
	if health["status"] != "healthy" || health["service"] == "" {
		t.Errorf("health = %v", health)
	}

	root := decode[map[string]string](t, env.do(t, http.MethodGet, "/"))
	if !strings.Contains(root["message"], "running") {
		t.Errorf("root = %v", root)
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name        string
		form        url.Values
		setup       func(*fakeAgno)
		wantCode    int
		wantSuccess bool
		wantContent string
	}{
		{
			name:        "success",
			form:        url.Values{"conversation": {"Alice: ship it"}},
			wantCode:    http.StatusOK,
			wantSuccess: true,
			wantContent: "# Minutes",
		},
		{
			name: "remote failure",
			form: url.Values{"conversation": {"Alice: ship it"}},
			setup: func(f *fakeAgno) {
				f.summaryStatus = http.StatusInternalServerError
				f.summaryBody = "agent crashed"
			},
			wantCode:    http.StatusInternalServerError,
			wantSuccess: false,
			wantContent: "status_code: 500, msg: agent crashed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := newFakeAgno()
			if tt.setup != nil {
				tt.setup(fa)
			}
			env := newTestEnv(t, fa)

			resp := env.postForm(t, "/summary", tt.form)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			res := decode[summary.Result](t, resp)
			if res.Success != tt.wantSuccess || !strings.Contains(res.Content, tt.wantContent) {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestSummary_BlankIsBadRequest(t *testing.T) {
	env := newTestEnv(t, newFakeAgno())
	resp := env.postForm(t, "/summary", url.Values{"conversation": {"   "}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTaskLifecycle(t *testing.T) {
	fa := newFakeAgno()
	fa.summaryGate = make(chan struct{})
	env := newTestEnv(t, fa)
	release := sync.OnceFunc(func() { close(fa.summaryGate) })
	t.Cleanup(release)

	resp, err := http.Post(env.srv.URL+"/api/summary", "application/json", strings.NewReader(`{"conversation":"Bob: budget approved"}`))
	if err != nil {
		t.Fatalf("POST /api/summary: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	created := decode[taskCreated](t, resp)
	if created.TaskID == "" || created.Status != task.StatusPending {
		t.Fatalf("created = %+v", created)
	}

	got := decode[task.Task](t, env.do(t, http.MethodGet, "/api/tasks/"+created.TaskID))
	if got.Status != task.StatusPending && got.Status != task.StatusProcessing {
		t.Fatalf("status before completion = %q", got.Status)
	}

	release()

	deadline := time.Now().Add(3 * time.Second)
	for got.Status != task.StatusCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("task did not complete, last status %q", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
		got = decode[task.Task](t, env.do(t, http.MethodGet, "/api/tasks/"+created.TaskID))
	}
	if got.Result == nil || !got.Result.Success || got.Result.Content != "# Minutes" {
		t.Errorf("result = %+v", got.Result)
	}

	list := decode[struct {
		Tasks []task.Summary `json:"tasks"`
		Total int            `json:"total"`
	}](t, env.do(t, http.MethodGet, "/api/tasks"))
	if list.Total != 1 || len(list.Tasks) != 1 || list.Tasks[0].ID != created.TaskID {
		t.Errorf("list = %+v", list)
	}
}

func TestTaskErrors(t *testing.T) {
	env := newTestEnv(t, newFakeAgno())

	if resp := env.do(t, http.MethodGet, "/api/tasks/does-not-exist"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404", resp.StatusCode)
	}
	if resp := env.postForm(t, "/api/summary", url.Values{"conversation": {""}}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank submit status = %d, want 400", resp.StatusCode)
	}
}

func TestKnowledgeUpload(t *testing.T) {
	fa := newFakeAgno()
	fa.statuses = []string{"processing", "completed"}
	env := newTestEnv(t, fa)

	resp := env.postForm(t, "/knowledge", url.Values{
		"meeting_id":   {"m1"},
		"conversation": {"Alice: kickoff"},
		"timeout":      {"5"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decode[uploadOutcome](t, resp)
	if !out.Success || out.Message != "success" || out.ContentID != "content-1" {
		t.Errorf("outcome = %+v", out)
	}

	ledger := decode[struct {
		Success bool             `json:"success"`
		Uploads []storage.Upload `json:"uploads"`
	}](t, env.do(t, http.MethodGet, "/knowledge/m1"))
	if len(ledger.Uploads) != 1 || ledger.Uploads[0].Status != "completed" {
		t.Errorf("ledger = %+v", ledger)
	}
}

func TestKnowledgeUpload_Failures(t *testing.T) {
	tests := []struct {
		name        string
		form        url.Values
		setup       func(*fakeAgno)
		wantCode    int
		wantMessage string
	}{
		{
			name:        "timeout",
			form:        url.Values{"meeting_id": {"m1"}, "conversation": {"x"}, "timeout": {"1"}},
			setup:       func(f *fakeAgno) { f.statuses = []string{"processing"} },
			wantCode:    http.StatusGatewayTimeout,
			wantMessage: "timeout",
		},
		{
			name:        "failed",
			form:        url.Values{"meeting_id": {"m1"}, "conversation": {"x"}},
			setup:       func(f *fakeAgno) { f.statuses = []string{"failed"} },
			wantCode:    http.StatusInternalServerError,
			wantMessage: "failed",
		},
		{
			name:        "rejected upload",
			form:        url.Values{"meeting_id": {"m1"}, "conversation": {"x"}},
			setup:       func(f *fakeAgno) { f.uploadStatus = http.StatusBadRequest },
			wantCode:    http.StatusInternalServerError,
			wantMessage: "status_code: 400",
		},
		{
			name:        "missing meeting id",
			form:        url.Values{"conversation": {"x"}},
			wantCode:    http.StatusBadRequest,
			wantMessage: "meeting_id",
		},
		{
			name:        "bad timeout",
			form:        url.Values{"meeting_id": {"m1"}, "conversation": {"x"}, "timeout": {"soon"}},
			wantCode:    http.StatusBadRequest,
			wantMessage: "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := newFakeAgno()
			if tt.setup != nil {
				tt.setup(fa)
			}
			env := newTestEnv(t, fa)

			resp := env.postForm(t, "/knowledge", tt.form)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			out := decode[uploadOutcome](t, resp)
			if out.Success || !strings.Contains(out.Message, tt.wantMessage) {
				t.Errorf("outcome = %+v, want failure mentioning %q", out, tt.wantMessage)
			}
		})
	}
}

func TestCounsel_StreamsRecords(t *testing.T) {
	fa := newFakeAgno()
	fa.streamBody = strings.Join([]string{
		`data: {"event":"RunContent","reasoning_content":"think1"}`,
		`data: {"event":"ToolCallCompleted","content":"search"}`,
		`data: {"event":"RunContent","content":"answer1"}`,
		``,
	}, "\n\n")
	env := newTestEnv(t, fa)

	resp := env.postForm(t, "/counsel", url.Values{"meeting_id": {"abc"}, "message": {"What is the topic?"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	for header, want := range map[string]string{
		"Content-Type":  "text/event-stream",
		"Cache-Control": "no-cache",
		"Connection":    "keep-alive",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	want := `data: {"content":"","reason_content":"think1","status":"thinking"}` + "\n\n" +
		`data: {"content":"answer1","reason_content":"","status":"end"}` + "\n\n"
	if string(body) != want {
		t.Errorf("stream =\n%s\nwant\n%s", body, want)
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.lastMessage != "What is the topic?\n\nSearch knowledge with filters: meeting_id=abc" {
		t.Errorf("upstream message = %q", fa.lastMessage)
	}
}

func TestCounsel_UpstreamErrorBecomesErrorEvent(t *testing.T) {
	fa := newFakeAgno()
	fa.streamStatus = http.StatusInternalServerError
	fa.streamBody = "agent unavailable"
	env := newTestEnv(t, fa)

	resp := env.postForm(t, "/counsel", url.Values{"meeting_id": {"abc"}, "message": {"q"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)

	events := strings.Split(strings.TrimSpace(string(body)), "\n\n")
	if len(events) != 1 {
		t.Fatalf("events = %q, want exactly one", events)
	}
	var ev streamError
	if err := json.Unmarshal([]byte(strings.TrimPrefix(events[0], "data: ")), &ev); err != nil {
		t.Fatalf("decoding error event: %v", err)
	}
	if ev.Status != "error" || !strings.Contains(ev.Error, "agent unavailable") {
		t.Errorf("error event = %+v", ev)
	}
}

func TestCounsel_Validation(t *testing.T) {
	env := newTestEnv(t, newFakeAgno())
	for _, form := range []url.Values{
		{"message": {"q"}},
		{"meeting_id": {"abc"}},
	} {
		if resp := env.postForm(t, "/counsel", form); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("form %v: status = %d, want 400", form, resp.StatusCode)
		}
	}
}

func TestHistory(t *testing.T) {
	fa := newFakeAgno()
	fa.sessionBody = `{"chat_history":[
		{"role":"system","content":"sys"},
		{"role":"user","content":"What is the topic?\n\nSearch knowledge with filters: meeting_id=abc"},
		{"role":"assistant","content":"Hiring."}
	]}`
	env := newTestEnv(t, fa)

	out := decode[historyOutcome](t, env.do(t, http.MethodGet, "/history/abc"))
	if !out.Success || out.Message != "success" {
		t.Fatalf("outcome = %+v", out)
	}
	want := []counsel.HistoryEntry{
		{Role: "user", Content: "What is the topic?"},
		{Role: "assistant", Content: "Hiring."},
	}
	if len(out.History) != len(want) || out.History[0] != want[0] || out.History[1] != want[1] {
		t.Errorf("history = %+v, want %+v", out.History, want)
	}
}

func TestHistory_UnknownSession(t *testing.T) {
	fa := newFakeAgno()
	fa.sessionStatus = http.StatusNotFound
	fa.sessionBody = `{"detail":"not found"}`
	env := newTestEnv(t, fa)

	resp := env.do(t, http.MethodGet, "/history/abc")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	out := decode[historyOutcome](t, resp)
	if out.Success || out.History == nil {
		t.Errorf("outcome = %+v", out)
	}
}

func TestDeleteHistory(t *testing.T) {
	tests := []struct {
		name         string
		deleteStatus int
		wantCode     int
		wantSuccess  bool
	}{
		{"no content", http.StatusNoContent, http.StatusOK, true},
		{"not found", http.StatusNotFound, http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, http.StatusInternalServerError, false},
		{"ok is not success", http.StatusOK, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := newFakeAgno()
			fa.deleteStatus = tt.deleteStatus
			env := newTestEnv(t, fa)

			resp := env.do(t, http.MethodDelete, "/history/abc")
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			out := decode[outcome](t, resp)
			if out.Success != tt.wantSuccess {
				t.Errorf("success = %v, want %v", out.Success, tt.wantSuccess)
			}
			if !tt.wantSuccess && !strings.Contains(out.Message, fmt.Sprintf("status_code: %d", tt.deleteStatus)) {
				t.Errorf("message = %q, want upstream status", out.Message)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, newFakeAgno())

	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/summary", nil)
	req.Header.Set("Origin", "http://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		t.Errorf("status = %d, want 2xx", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://app.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); !strings.EqualFold(got, "content-type") {
		t.Errorf("Allow-Headers = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "POST" {
		t.Errorf("Allow-Methods = %q", got)
	}
}

func TestCORSActualRequest(t *testing.T) {
	env := newTestEnv(t, newFakeAgno())

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/health", nil)
	req.Header.Set("Origin", "http://other.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://other.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, newFakeAgno())
	env.do(t, http.MethodGet, "/health")

	resp := env.do(t, http.MethodGet, "/metrics")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `minutes_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("metrics output missing /health counter:\n%s", body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{task.ErrNotFound, http.StatusNotFound},
		{counsel.ErrEmptyMessage, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", summary.ErrEmptyConversation), http.StatusBadRequest},
		{&agno.StatusError{Code: 404}, http.StatusInternalServerError},
		{fmt.Errorf("dial tcp: refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

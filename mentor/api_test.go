package mentor

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/codementor/problem"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestAPI_Problem(t *testing.T) {
	k := testKeeper(t, "http://unused")
	h := k.Handler()

	rec := do(t, h, "GET", "/problem?page_id=p1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty: status %d", rec.Code)
	}
	var e struct{ Error, Code string }
	decode(t, rec, &e)
	if e.Code != "NOT_FOUND" || e.Error == "" {
		t.Errorf("error body: %+v", e)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	k.HandleEvent(context.Background(), problem.Info(twoSum("s1", "x = 1")))
	rec = do(t, h, "GET", "/problem?page_id=p1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var got map[string]any
	decode(t, rec, &got)
	if got["title"] != "1. Two Sum" || got["userCode"] != "x = 1" || got["lastUpdate"] == nil {
		t.Errorf("body: %v", got)
	}
}

func TestAPI_History(t *testing.T) {
	k := testKeeper(t, "http://unused")
	h := k.Handler()
	ctx := context.Background()
	k.HandleEvent(ctx, problem.Info(twoSum("s1", "a")))
	k.HandleEvent(ctx, problem.Info(twoSum("s2", "b")))

	rec := do(t, h, "GET", "/problem/history?page_id=p1&limit=1", "")
	var body struct {
		Snapshots []problem.Snapshot
		Count     int
	}
	decode(t, rec, &body)
	if body.Count != 1 || len(body.Snapshots) != 1 {
		t.Errorf("history: %+v", body)
	}

	if rec := do(t, h, "GET", "/problem/history?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d", rec.Code)
	}
}

func TestAPI_Keys(t *testing.T) {
	k := testKeeper(t, "http://unused")
	h := k.Handler()

	rec := do(t, h, "PUT", "/keys/openai", `{"key":"sk-short"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "INVALID_KEY") {
		t.Errorf("invalid key: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, "PUT", "/keys/openai", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: %d", rec.Code)
	}
	if rec := do(t, h, "PUT", "/keys/openai", `{"key":"`+openaiKey+`"}`); rec.Code != http.StatusOK {
		t.Fatalf("save: %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, "GET", "/keys", "")
	var list struct {
		Keys []struct{ Provider string }
	}
	decode(t, rec, &list)
	if len(list.Keys) != 1 || list.Keys[0].Provider != "openai" {
		t.Errorf("keys: %+v", list)
	}
	if strings.Contains(rec.Body.String(), openaiKey[3:]) {
		t.Error("key material in listing")
	}

	rec = do(t, h, "DELETE", "/keys/openai", "")
	var del struct{ Removed int }
	decode(t, rec, &del)
	if del.Removed != 1 {
		t.Errorf("delete: %+v", del)
	}
	rec = do(t, h, "DELETE", "/keys", "")
	decode(t, rec, &del)
	if del.Removed != 0 {
		t.Errorf("delete all: %+v", del)
	}
}

func TestAPI_Ask(t *testing.T) {
	up := openAIStub(t, `"Use `+"`dict`"+`."`, nil)
	k := testKeeper(t, up.URL)
	h := k.Handler()
	ctx := context.Background()
	k.HandleEvent(ctx, problem.Info(twoSum("s1", "")))
	k.SetKey(ctx, "openai", openaiKey)

	rec := do(t, h, "POST", "/ask", `{"kind":"solution","provider":"openai","page_id":"p1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ask: %d %s", rec.Code, rec.Body)
	}
	var ans Answer
	decode(t, rec, &ans)
	if ans.Kind != "solution" || !strings.Contains(ans.HTML, `<span class="inline-code">dict</span>`) {
		t.Errorf("answer: %+v", ans)
	}

	if rec := do(t, h, "POST", "/ask", `{"provider":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing provider: %d", rec.Code)
	}
}

func TestAPI_AskRateLimited(t *testing.T) {
	k := testKeeper(t, "http://unused")
	h := k.Handler()

	for i := 0; i < k.config.AskPerMinute; i++ {
		if rec := do(t, h, "POST", "/ask", `{"provider":""}`); rec.Code != http.StatusBadRequest {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := do(t, h, "POST", "/ask", `{"provider":""}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over limit: %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
	if rec := do(t, h, "GET", "/providers", ""); rec.Code != http.StatusOK {
		t.Errorf("providers: %d", rec.Code)
	}
}

func TestAPI_Events(t *testing.T) {
	k := testKeeper(t, "http://unused")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k.Start(ctx)

	srv := httptest.NewServer(k.Handler())
	defer srv.Close()

	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events?page_id=p1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	events := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "event: ") {
				events <- strings.TrimPrefix(line, "event: ")
			}
		}
	}()

	next := func() string {
		t.Helper()
		select {
		case ev := <-events:
			return ev
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	if ev := next(); ev != "cleared" {
		t.Fatalf("first event: %q", ev)
	}
	k.HandleEvent(ctx, problem.Info(twoSum("s1", "")))
	if ev := next(); ev != "problem" {
		t.Fatalf("after info: %q", ev)
	}
	k.HandleEvent(ctx, problem.Cleared("p1", "https://leetcode.com/", 1))
	if ev := next(); ev != "cleared" {
		t.Fatalf("after clear: %q", ev)
	}
}

package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func ok(w http.ResponseWriter, r *http.Request) {
	if _, err := io.ReadAll(r.Body); err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	w.Write([]byte(r.Method))
}

func chain(h http.Handler, mws []func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestAPIStack_HeadersAndHead(t *testing.T) {
	h := chain(http.HandlerFunc(ok), APIStack(nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/problem", nil))

	if rec.Body.String() != "GET" {
		t.Errorf("HEAD not mapped to GET: %q", rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if !strings.Contains(rec.Header().Get("Content-Security-Policy"), "default-src 'none'") {
		t.Errorf("csp: %q", rec.Header().Get("Content-Security-Policy"))
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(8)(http.HandlerFunc(ok))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(strings.Repeat("x", 64))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(map[string]Rule{"POST /ask": {PerMinute: 1, Burst: 2}}, nil)
	h := rl.Middleware(http.HandlerFunc(ok))

	do := func(method, path, ip string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if c := do("POST", "/ask", "10.0.0.1"); c != http.StatusOK {
			t.Fatalf("request %d: status %d", i, c)
		}
	}
	if c := do("POST", "/ask", "10.0.0.1"); c != http.StatusTooManyRequests {
		t.Errorf("over burst: status %d", c)
	}
	if c := do("POST", "/ask", "10.0.0.2"); c != http.StatusOK {
		t.Errorf("other client: status %d", c)
	}
	if c := do("GET", "/problem", "10.0.0.1"); c != http.StatusOK {
		t.Errorf("unlimited endpoint: status %d", c)
	}

	rl.gc(time.Now().Add(time.Minute))
	if len(rl.visitors) != 0 {
		t.Errorf("gc left %d visitors", len(rl.visitors))
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	if ip := ExtractIP(req); ip != "1.2.3.4" {
		t.Errorf("xff: %q", ip)
	}
	req = httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "9.9.9.9:80"
	if ip := ExtractIP(req); ip != "9.9.9.9" {
		t.Errorf("remote: %q", ip)
	}
}

package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"sync"
	"testing"
	"time"
)

func TestClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" || r.URL.Path != "/items/1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("User-Agent") != "cacheload-test" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"item":{"id":1,"name":"a"},"source":"cache"}`))
	}))
	defer server.Close()

	client := NewClient(
		WithTimeout(5*time.Second),
		WithHeader("User-Agent", "cacheload-test"),
		WithBaseURL(server.URL),
		WithMaxIdleConnsPerHost(16),
	)

	resp, err := client.Do(context.Background(), NewRequest("GET", "/items/1"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !resp.IsSuccess() || resp.IsServerError() {
		t.Errorf("status %d classified wrong", resp.StatusCode)
	}
	if got := resp.JSON("item.name").String(); got != "a" {
		t.Errorf("JSON(item.name) = %q, want a", got)
	}
	if !resp.IsJSON() {
		t.Error("IsJSON() = false")
	}
	if resp.Timing.TotalTime <= 0 || resp.Timing.Duration() > resp.Timing.TotalTime {
		t.Errorf("unexpected timing %+v", resp.Timing)
	}

	// The second request reuses the keep-alive connection.
	resp, err = client.Do(context.Background(), NewRequest("GET", "/items/1"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !resp.Timing.ConnReused || resp.Timing.TCPConnectTime != 0 {
		t.Errorf("expected a reused connection, got %+v", resp.Timing)
	}
}

func TestClient_Do_ErrorStatusIsAResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	resp, err := NewClient(WithBaseURL(server.URL)).Do(context.Background(), NewRequest("GET", "/"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !resp.IsServerError() || resp.IsSuccess() || resp.IsJSON() {
		t.Errorf("status %d classified wrong", resp.StatusCode)
	}
}

func TestClient_Do_TransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewClient(WithBaseURL("http://"+addr), WithTimeout(time.Second)).
		Do(context.Background(), NewRequest("GET", "/"))
	if err == nil {
		t.Fatal("expected error for closed port")
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Errorf("error %v does not wrap the network error", err)
	}
}

func TestClient_BadBaseURL(t *testing.T) {
	_, err := NewClient(WithBaseURL("http://[::1")).Do(context.Background(), NewRequest("GET", "/x"))
	if err == nil {
		t.Error("expected error for invalid base URL")
	}
}

func TestClient_WithOptions(t *testing.T) {
	client := NewClient(
		WithTimeout(10*time.Second),
		WithBaseURL("http://example.com"),
		WithHeader("X-Test", "test-value"),
	)

	if client.hc.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", client.hc.Timeout)
	}
	if client.base.String() != "http://example.com" {
		t.Errorf("base = %s", client.base)
	}
	if client.headers["X-Test"] != "test-value" {
		t.Errorf("header X-Test = %q", client.headers["X-Test"])
	}
}

func TestTimingInfo_Duration(t *testing.T) {
	timing := TimingInfo{
		DNSLookupTime:    10 * time.Millisecond,
		TCPConnectTime:   20 * time.Millisecond,
		TLSHandshakeTime: 30 * time.Millisecond,
		TotalTime:        150 * time.Millisecond,
	}
	if got := timing.Duration(); got != 90*time.Millisecond {
		t.Errorf("Duration() = %v, want 90ms", got)
	}
	if got := (TimingInfo{TCPConnectTime: time.Second}).Duration(); got != 0 {
		t.Errorf("Duration() = %v, want 0 when setup exceeds total", got)
	}
	if got := Millis(1500 * time.Microsecond); got != 1.5 {
		t.Errorf("Millis() = %v, want 1.5", got)
	}
}

func TestPhases_ConcurrentDialsAndLateCallbacks(t *testing.T) {
	p := startPhases(time.Now())
	tr := p.trace()

	// Dual-stack dials report from separate goroutines.
	var wg sync.WaitGroup
	for _, addr := range []string{"[::1]:80", "127.0.0.1:80"} {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			tr.ConnectStart("tcp", addr)
			time.Sleep(time.Millisecond)
			tr.ConnectDone("tcp", addr, nil)
		}(addr)
	}
	wg.Wait()
	tr.GotFirstResponseByte()

	timing := p.finish(0)
	if timing.TCPConnectTime <= 0 {
		t.Errorf("TCPConnectTime = %v, want the first completed dial", timing.TCPConnectTime)
	}

	// A dial abandoned for an idle connection can report after the response.
	tr.ConnectStart("tcp", "10.0.0.1:80")
	tr.ConnectDone("tcp", "10.0.0.1:80", nil)
	tr.GotConn(httptrace.GotConnInfo{Reused: true})
	if after := p.finish(0); after.TCPConnectTime != timing.TCPConnectTime || after.ConnReused {
		t.Errorf("timings changed after finish: %+v", after)
	}
}

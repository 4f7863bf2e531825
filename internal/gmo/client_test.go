package gmo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

type recordedRequest struct {
	method      string
	path        string
	body        string
	apiKey      string
	timestamp   string
	signature   string
	contentType string
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.body = string(body)
		rec.apiKey = r.Header.Get("API-KEY")
		rec.timestamp = r.Header.Get("API-TIMESTAMP")
		rec.signature = r.Header.Get("API-SIGN")
		rec.contentType = r.Header.Get("Content-Type")
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func hmacHex(secret, text string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(text))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCreateWSToken(t *testing.T) {
	srv, rec := newTestServer(t, 200, `{"status":0,"data":"tok-abc123"}`)
	c := NewClient("key1", "secret1", srv.URL, 5*time.Second)

	token, err := c.CreateWSToken(context.Background())
	if err != nil {
		t.Fatalf("CreateWSToken() error: %v", err)
	}
	if token != "tok-abc123" {
		t.Errorf("token = %q, want tok-abc123", token)
	}

	if rec.method != http.MethodPost {
		t.Errorf("method = %s, want POST", rec.method)
	}
	if rec.path != "/v1/ws-auth" {
		t.Errorf("path = %s, want /v1/ws-auth", rec.path)
	}
	if rec.body != "{}" {
		t.Errorf("body = %q, want {}", rec.body)
	}
	if rec.apiKey != "key1" {
		t.Errorf("API-KEY = %q, want key1", rec.apiKey)
	}
	if rec.contentType != "application/json" {
		t.Errorf("Content-Type = %q", rec.contentType)
	}

	// Timestamp must be current epoch milliseconds.
	ms, err := strconv.ParseInt(rec.timestamp, 10, 64)
	if err != nil {
		t.Fatalf("API-TIMESTAMP %q not an integer: %v", rec.timestamp, err)
	}
	if drift := time.Since(time.UnixMilli(ms)); drift < -time.Minute || drift > time.Minute {
		t.Errorf("API-TIMESTAMP drift = %v", drift)
	}

	// The create signature covers the body.
	want := hmacHex("secret1", rec.timestamp+"POST"+"/v1/ws-auth"+"{}")
	if rec.signature != want {
		t.Errorf("API-SIGN = %q, want %q", rec.signature, want)
	}
}

func TestExtendWSTokenSignatureExcludesBody(t *testing.T) {
	srv, rec := newTestServer(t, 200, `{"status":0}`)
	c := NewClient("key1", "secret1", srv.URL, 5*time.Second)

	if err := c.ExtendWSToken(context.Background(), "tok-abc123"); err != nil {
		t.Fatalf("ExtendWSToken() error: %v", err)
	}

	if rec.method != http.MethodPut {
		t.Errorf("method = %s, want PUT", rec.method)
	}
	if rec.body != `{"token":"tok-abc123"}` {
		t.Errorf("body = %q", rec.body)
	}

	want := hmacHex("secret1", rec.timestamp+"PUT"+"/v1/ws-auth")
	if rec.signature != want {
		t.Errorf("API-SIGN = %q, want signature without body %q", rec.signature, want)
	}
}

func TestDeleteWSToken(t *testing.T) {
	srv, rec := newTestServer(t, 200, `{"status":0}`)
	c := NewClient("key1", "secret1", srv.URL, 5*time.Second)

	if err := c.DeleteWSToken(context.Background(), "tok-abc123"); err != nil {
		t.Fatalf("DeleteWSToken() error: %v", err)
	}

	if rec.method != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", rec.method)
	}
	if rec.body != `{"token":"tok-abc123"}` {
		t.Errorf("body = %q", rec.body)
	}
	want := hmacHex("secret1", rec.timestamp+"DELETE"+"/v1/ws-auth")
	if rec.signature != want {
		t.Errorf("API-SIGN = %q, want %q", rec.signature, want)
	}
}

func TestCreateWSTokenApplicationError(t *testing.T) {
	srv, _ := newTestServer(t, 200, `{"status":1,"messages":[{"message_code":"ERR-5201","message_string":"rate limited"}]}`)
	c := NewClient("k", "s", srv.URL, 5*time.Second)

	_, err := c.CreateWSToken(context.Background())
	if err == nil {
		t.Fatal("expected error for non-zero status")
	}
	if !strings.Contains(err.Error(), "ERR-5201") {
		t.Errorf("error %q should carry the exchange message code", err)
	}
}

func TestCreateWSTokenHTTPError(t *testing.T) {
	srv, _ := newTestServer(t, 503, `upstream unavailable`)
	c := NewClient("k", "s", srv.URL, 5*time.Second)

	_, err := c.CreateWSToken(context.Background())
	if err == nil {
		t.Fatal("expected error for http 503")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %q should carry the http status", err)
	}
}

func TestCreateWSTokenEmptyData(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty string data", `{"status":0,"data":""}`},
		{"missing data", `{"status":0}`},
		{"non-string data", `{"status":0,"data":{"token":"x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, 200, tt.body)
			c := NewClient("k", "s", srv.URL, 5*time.Second)
			if _, err := c.CreateWSToken(context.Background()); err == nil {
				t.Error("expected error when no token is returned")
			}
		})
	}
}

func TestCreateWSTokenNonJSON(t *testing.T) {
	srv, _ := newTestServer(t, 200, `<html>gateway error</html>`)
	c := NewClient("k", "s", srv.URL, 5*time.Second)

	if _, err := c.CreateWSToken(context.Background()); err == nil {
		t.Fatal("expected error for non-JSON body")
	}
}

func TestExtendWSTokenEmptyResponse(t *testing.T) {
	srv, _ := newTestServer(t, 200, ``)
	c := NewClient("k", "s", srv.URL, 5*time.Second)

	if err := c.ExtendWSToken(context.Background(), "tok"); err != nil {
		t.Errorf("empty 2xx response should be accepted, got %v", err)
	}
}

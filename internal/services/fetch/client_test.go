package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestClient() *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClient(5*time.Second, nil, logger)
}

func TestDoParsesJSON(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"searchResult":[{"title":"Friends"}]}`))
	}))
	defer server.Close()

	var seen any
	resp, err := newTestClient().Do(context.Background(), Request{
		URL:      server.URL,
		Payload:  map[string]string{"searchQuery": "friends"},
		Callback: func(body any) { seen = body },
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if gotBody["searchQuery"] != "friends" {
		t.Errorf("Payload not sent, got %v", gotBody)
	}

	body, ok := resp.Body.(map[string]any)
	if !ok {
		t.Fatalf("Expected decoded JSON object, got %T", resp.Body)
	}
	if _, ok := body["searchResult"]; !ok {
		t.Error("Expected searchResult key")
	}
	if seen == nil {
		t.Error("Expected callback to receive the parsed body")
	}
}

func TestDoFallsBackToText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	resp, err := newTestClient().Do(context.Background(), Request{URL: server.URL})
	if err != nil {
		t.Fatalf("Non-2xx must not be an error, got %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", resp.StatusCode)
	}
	if text, ok := resp.Body.(string); !ok || text != "upstream unavailable" {
		t.Errorf("Expected raw text body, got %#v", resp.Body)
	}
}

func TestDoSendsForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Write([]byte(r.PostForm.Get("name")))
	}))
	defer server.Close()

	resp, err := newTestClient().Do(context.Background(), Request{
		URL:    server.URL,
		Method: http.MethodPost,
		Form:   url.Values{"name": {"value"}},
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.Body != "value" {
		t.Errorf("Expected form echo, got %#v", resp.Body)
	}
}

func TestDoSendsFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
			return
		}
		f, _, err := r.FormFile("upload")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		w.Write(data)
	}))
	defer server.Close()

	resp, err := newTestClient().Do(context.Background(), Request{
		URL:   server.URL,
		Files: []File{{Field: "upload", Filename: "a.txt", Content: strings.NewReader("attached")}},
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.Body != "attached" {
		t.Errorf("Expected file echo, got %#v", resp.Body)
	}
}

func TestDoReportsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := newTestClient().Do(context.Background(), Request{URL: addr})
	var nerr *NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("Expected NetworkError, got %v", err)
	}
	if nerr.URL != addr {
		t.Errorf("Expected URL %s, got %s", addr, nerr.URL)
	}
}

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "acerpal dev" {
		t.Errorf("Expected 'acerpal dev', got %q", got)
	}
}

func TestSnapshotCommand(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("AUTH_USERNAME", "admin")
	t.Setenv("AUTH_PASSWORD", "secret")
	t.Setenv("LOG_LEVEL", "error")

	var gotPath, gotUser string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"written":true,"path":"/tmp/downloads_state.json"}`))
	}))
	defer server.Close()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"snapshot", "--addr", server.URL})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if gotPath != "POST /api/snapshot" {
		t.Errorf("Unexpected request %q", gotPath)
	}
	if gotUser != "admin" {
		t.Errorf("Expected basic auth user, got %q", gotUser)
	}
	if !strings.Contains(out.String(), "Snapshot written to /tmp/downloads_state.json") {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestSnapshotCommandServerError(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"snapshot", "--addr", server.URL})

	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("Expected status error, got %v", err)
	}
}

package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"setup.too_short","message":"password must be at least 8 characters"}}`))
	}))
	defer srv.Close()

	err := newAPIClient(srv.URL, "admin", "").setup("admin", "short", "short")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Code != "setup.too_short" || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("unexpected %+v", apiErr)
	}
}

func TestClientNotProvisioned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/setup" {
			t.Errorf("redirect was followed")
		}
		http.Redirect(w, r, "/api/setup", http.StatusSeeOther)
	}))
	defer srv.Close()

	if _, err := newAPIClient(srv.URL, "admin", "x").getConfig(); !errors.Is(err, errNotProvisioned) {
		t.Fatalf("want errNotProvisioned, got %v", err)
	}
}

func TestClientFlashHeaders(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != "admin" || p != "longenough1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Firmware-Size") != "4" || r.Header.Get("X-Firmware-Label") != "v2" ||
			r.Header.Get("X-Firmware-Digest") != "abcd" {
			t.Errorf("headers: %v", r.Header)
		}
		got, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"restarting":true}`))
	}))
	defer srv.Close()

	out, err := newAPIClient(srv.URL, "admin", "longenough1").flash(bytes.NewReader([]byte{0xE9, 1, 2, 3}), 4, "v2", "abcd")
	if err != nil {
		t.Fatal(err)
	}
	if out["restarting"] != true || len(got) != 4 {
		t.Fatalf("unexpected result %v %v", out, got)
	}
}

func TestParseAssignments(t *testing.T) {
	patch, err := parseAssignments([]string{"managedNetworkId=home", "fallbackEnabled=false"})
	if err != nil {
		t.Fatal(err)
	}
	if patch["managedNetworkId"] != "home" || patch["fallbackEnabled"] != false {
		t.Fatalf("unexpected patch %v", patch)
	}
	if _, err := parseAssignments([]string{"accessProtected=maybe"}); err == nil {
		t.Fatalf("want error for bad bool")
	}
	if _, err := parseAssignments([]string{"novalue"}); err == nil {
		t.Fatalf("want error without '='")
	}
}

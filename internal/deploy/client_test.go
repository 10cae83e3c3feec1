package deploy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"certops/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, config.TargetConfig{TimeoutSec: 5})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, server
}

func TestClientImportCertificate(t *testing.T) {
	var gotReq importRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/certificates/import" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]string{"fingerprint": "fp-1"},
		})
	}))

	fp, err := client.ImportCertificate(context.Background(), []byte("bundle-bytes"), "secret")
	if err != nil {
		t.Fatalf("ImportCertificate() error = %v", err)
	}
	if fp != "fp-1" {
		t.Errorf("fingerprint = %q, want fp-1", fp)
	}
	if gotReq.Bundle != base64.StdEncoding.EncodeToString([]byte("bundle-bytes")) {
		t.Error("bundle was not base64 encoded")
	}
	if gotReq.Passphrase != "secret" {
		t.Errorf("passphrase = %q, want secret", gotReq.Passphrase)
	}
}

func TestClientImportRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    1201,
			"message": "bundle passphrase incorrect",
		})
	}))

	_, err := client.ImportCertificate(context.Background(), []byte("x"), "wrong")
	if !errors.Is(err, ErrImportFailed) {
		t.Fatalf("ImportCertificate() error = %v, want ErrImportFailed", err)
	}
}

func TestClientAuthFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.ImportCertificate(context.Background(), []byte("x"), "p")
	if !errors.Is(err, ErrTargetAuth) {
		t.Fatalf("ImportCertificate() error = %v, want ErrTargetAuth", err)
	}
}

func TestClientHasCertificate(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/certificates/fp-known" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 0,
				"data": map[string]string{"fingerprint": "fp-known"},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	exists, err := client.HasCertificate(context.Background(), "fp-known")
	if err != nil {
		t.Fatalf("HasCertificate() error = %v", err)
	}
	if !exists {
		t.Error("known fingerprint reported absent")
	}

	exists, err = client.HasCertificate(context.Background(), "fp-unknown")
	if err != nil {
		t.Fatalf("HasCertificate() error = %v", err)
	}
	if exists {
		t.Error("unknown fingerprint reported present")
	}
}

func TestClientBinding(t *testing.T) {
	var gotPut bindingRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/sites/app/binding" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 0,
				"data": Binding{Site: "app", Port: 443, Fingerprint: "fp-1"},
			})
		case r.URL.Path == "/api/v1/sites/app/binding" && r.Method == http.MethodPut:
			if err := json.NewDecoder(r.Body).Decode(&gotPut); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"code": 0})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	binding, err := client.GetBinding(context.Background(), "app")
	if err != nil {
		t.Fatalf("GetBinding() error = %v", err)
	}
	if binding.Fingerprint != "fp-1" || binding.Port != 443 {
		t.Errorf("binding = %+v, want fp-1 on 443", binding)
	}

	if err := client.PutBinding(context.Background(), "app", 443, "fp-2"); err != nil {
		t.Fatalf("PutBinding() error = %v", err)
	}
	if gotPut.Fingerprint != "fp-2" || gotPut.Port != 443 {
		t.Errorf("put request = %+v, want fp-2 on 443", gotPut)
	}

	_, err = client.GetBinding(context.Background(), "missing")
	if !errors.Is(err, ErrSiteNotFound) {
		t.Fatalf("GetBinding() error = %v, want ErrSiteNotFound", err)
	}
}

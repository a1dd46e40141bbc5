package tmfmock

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestMock(t *testing.T) *httptest.Server {
	t.Helper()
	server, err := NewServer(Config{Addr: ":0"})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postIntent(t *testing.T, ts *httptest.Server, body map[string]any, idempotencyKey string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/intent/", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-token")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("perform request: %v", err)
	}
	return resp
}

func decodeRecord(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return decoded
}

func TestTokenEndpointRequiresPasswordGrant(t *testing.T) {
	ts := newTestMock(t)

	form := url.Values{"grant_type": {"client_credentials"}}
	resp, err := http.PostForm(ts.URL+"/auth/keycloak_realm/protocol/openid-connect/token", form)
	if err != nil {
		t.Fatalf("post form: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong grant type: got %d want 400", resp.StatusCode)
	}

	form = url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"whatever"},
		"client_id":  {"intentmcp"},
	}
	resp, err = http.PostForm(ts.URL+"/auth/keycloak_realm/protocol/openid-connect/token", form)
	if err != nil {
		t.Fatalf("post form: %v", err)
	}
	body := decodeRecord(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("password grant: got %d want 200", resp.StatusCode)
	}
	token, _ := body["access_token"].(string)
	if !strings.HasPrefix(token, "mock-token-") {
		t.Fatalf("unexpected access token %q", token)
	}
	if body["expires_in"].(float64) != 3600 {
		t.Fatalf("unexpected expiry: %+v", body)
	}
}

func TestIntentRoutesRequireBearer(t *testing.T) {
	ts := newTestMock(t)

	resp, err := http.Post(ts.URL+"/intent/", "application/json", strings.NewReader(`{"name":"x"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing bearer: got %d want 401", resp.StatusCode)
	}
}

func TestCreateFetchCancelLifecycle(t *testing.T) {
	ts := newTestMock(t)

	created := postIntent(t, ts, map[string]any{"name": "broadcast uplink"}, "")
	if created.StatusCode != http.StatusCreated {
		t.Fatalf("create: got %d want 201", created.StatusCode)
	}
	location := created.Header.Get("Location")
	if !strings.HasPrefix(location, "/intent/intent-") {
		t.Fatalf("unexpected location %q", location)
	}
	rec := decodeRecord(t, created)
	ref, _ := rec["id"].(string)
	if !referencePattern.MatchString(ref) {
		t.Fatalf("unexpected reference %q", ref)
	}
	if rec["state"] != "created" {
		t.Fatalf("fresh intent must report created, got %+v", rec)
	}

	fetch := func(target string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/intent/"+target, nil)
		req.Header.Set("Authorization", "Bearer test-token")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("fetch %s: %v", target, err)
		}
		return resp
	}

	// First fetch flips the record to active.
	active := fetch(ref)
	rec = decodeRecord(t, active)
	if active.StatusCode != http.StatusOK || rec["state"] != "active" {
		t.Fatalf("fetch after create: got %d %+v", active.StatusCode, rec)
	}

	// Malformed and unknown references both come back 404.
	malformed := fetch("not-a-reference")
	malformed.Body.Close()
	if malformed.StatusCode != http.StatusNotFound {
		t.Fatalf("malformed ref: got %d want 404", malformed.StatusCode)
	}
	unknown := fetch("intent-0000000000")
	unknown.Body.Close()
	if unknown.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown ref: got %d want 404", unknown.StatusCode)
	}

	cancelReq, _ := http.NewRequest(http.MethodDelete, ts.URL+"/intent/"+ref, nil)
	cancelReq.Header.Set("Authorization", "Bearer test-token")
	cancelResp, err := http.DefaultClient.Do(cancelReq)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	rec = decodeRecord(t, cancelResp)
	if cancelResp.StatusCode != http.StatusAccepted || rec["state"] != "terminated" {
		t.Fatalf("cancel: got %d %+v", cancelResp.StatusCode, rec)
	}
}

func TestCreateRejectsUnnamedPayload(t *testing.T) {
	ts := newTestMock(t)
	resp := postIntent(t, ts, map[string]any{"description": "nameless"}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("nameless intent: got %d want 400", resp.StatusCode)
	}
}

func TestIdempotentCreateReturnsSameRecord(t *testing.T) {
	ts := newTestMock(t)

	first := decodeRecord(t, postIntent(t, ts, map[string]any{"name": "retry me"}, "key-1"))
	second := decodeRecord(t, postIntent(t, ts, map[string]any{"name": "retry me"}, "key-1"))
	if first["id"] != second["id"] {
		t.Fatalf("replayed key must return the same record: %v vs %v", first["id"], second["id"])
	}

	third := decodeRecord(t, postIntent(t, ts, map[string]any{"name": "retry me"}, "key-2"))
	if third["id"] == first["id"] {
		t.Fatalf("distinct key must mint a new record")
	}
}

func TestHealthAndMappings(t *testing.T) {
	ts := newTestMock(t)

	health, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	body := decodeRecord(t, health)
	if health.StatusCode != http.StatusOK || body["status"] != "UP" {
		t.Fatalf("health: got %d %+v", health.StatusCode, body)
	}

	mappings, err := http.Get(ts.URL + "/__admin/mappings")
	if err != nil {
		t.Fatalf("mappings: %v", err)
	}
	decoded := decodeRecord(t, mappings)
	stubs, ok := decoded["mappings"].([]any)
	if !ok || len(stubs) == 0 {
		t.Fatalf("expected default stub mappings, got %+v", decoded)
	}
}

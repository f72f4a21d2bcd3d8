package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	Tenant string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			Tenant: r.Header.Get("X-Tenant-ID"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client(tenant string) *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		tenant:     tenant,
		httpClient: ts.server.Client(),
	}
}

var testCtx = context.Background()

func TestClientSendsBearerToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /documents": `[]`,
	})

	resp, err := ts.client("").get(testCtx, "/documents")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var docs []any
	if err := decodeJSON(resp, &docs); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth header = %q", ts.requests[0].Auth)
	}
	if ts.requests[0].Tenant != "" {
		t.Errorf("unexpected tenant header %q", ts.requests[0].Tenant)
	}
}

func TestClientSendsTenantHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /clause-map": `{"total_qsp_documents":2,"total_clauses_mapped":31}`,
	})

	resp, err := ts.client("acme").post(testCtx, "/clause-map", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var result map[string]int
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if ts.requests[0].Tenant != "acme" {
		t.Errorf("tenant header = %q, want acme", ts.requests[0].Tenant)
	}
	if result["total_clauses_mapped"] != 31 {
		t.Errorf("total_clauses_mapped = %d", result["total_clauses_mapped"])
	}
}

func TestClientUploadRequestShape(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /documents": `{"document_number":"7.3-3","revision":"R9","total_clauses":12}`,
	})

	req := map[string]any{
		"filename":       "QSP_7.3-3_R9.docx",
		"content_base64": "aGVsbG8=",
	}
	resp, err := ts.client("").post(testCtx, "/documents", req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}

	var sent map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("unmarshalling sent body: %v", err)
	}
	if sent["filename"] != "QSP_7.3-3_R9.docx" || sent["content_base64"] != "aGVsbG8=" {
		t.Errorf("unexpected request body: %v", sent)
	}
}

func TestDecodeJSONServerError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	resp, err := ts.client("").get(testCtx, "/runs/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	var out any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should mention status code, got %q", err)
	}
}

func TestAnalyzeCommandRequiresInput(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"analyze"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error when neither --diff nor --deltas is given")
	}
	if !strings.Contains(err.Error(), "--diff") {
		t.Errorf("error should mention the missing flags, got %q", err)
	}
}

func TestColorizeRespectsNoColor(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "hello")
	if strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	result = colorize(colorGreen, "hello")
	if !strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestChangeMarkerCoversAllTypes(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	cases := map[string]string{
		"added":    "+",
		"deleted":  "-",
		"modified": "~",
	}
	for changeType, want := range cases {
		if got := changeMarker(changeType); got != want {
			t.Errorf("changeMarker(%q) = %q, want %q", changeType, got, want)
		}
	}
}

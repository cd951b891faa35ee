package defra

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// gqlServer answers every GraphQL request with body and records the last query.
func gqlServer(t *testing.T, body string, lastQuery *string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if lastQuery != nil {
			*lastQuery = req.Query
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_HealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{"healthy", http.StatusOK, false},
		{"unhealthy_500", http.StatusInternalServerError, true},
		{"unhealthy_503", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health-check" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			err := NewClient(server.URL).HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnhealthy) {
				t.Errorf("expected ErrUnhealthy, got %v", err)
			}
		})
	}
}

func TestClient_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/graphql" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		var req GQLRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Variables["p"] != "proj-1" {
			t.Errorf("variables not forwarded: %v", req.Variables)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"Verse": [{"_docID": "abc", "key": "GEN-1-1"}, "junk"]}}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL).Execute(context.Background(),
		`query($p: String) { Verse(filter: {project_id: {_eq: $p}}) { _docID key } }`,
		map[string]any{"p": "proj-1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	docs := resp.Documents("Verse")
	if len(docs) != 1 || docs[0]["key"] != "GEN-1-1" {
		t.Errorf("Documents() = %v", docs)
	}
}

func TestClient_Execute_Errors(t *testing.T) {
	t.Run("graphql error", func(t *testing.T) {
		server := gqlServer(t, `{"errors": [{"message": "field not found"}]}`, nil)
		resp, err := NewClient(server.URL).Execute(context.Background(), `{ Invalid }`, nil)
		if err != nil {
			t.Fatalf("Execute() returned transport error: %v", err)
		}
		if resp.Error() != "field not found" {
			t.Errorf("unexpected error message: %s", resp.Error())
		}
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
		}))
		defer server.Close()
		if _, err := NewClient(server.URL).Execute(context.Background(), `{ X }`, nil); err == nil {
			t.Error("expected error for 500")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.Write([]byte(`{"data": {}}`))
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := NewClient(server.URL).Execute(ctx, `{ Verse { key } }`, nil); err == nil {
			t.Error("expected error from cancelled context")
		}
	})
}

func TestClient_AddSchema(t *testing.T) {
	var receivedSchema string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/schema" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "text/plain" {
			t.Errorf("unexpected content-type: %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		receivedSchema = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	schema := `type Verse { key: String }`
	if err := NewClient(server.URL).AddSchema(context.Background(), schema); err != nil {
		t.Fatalf("AddSchema() error = %v", err)
	}
	if receivedSchema != schema {
		t.Errorf("schema mismatch: got %q, want %q", receivedSchema, schema)
	}
}

func TestClient_AddSchema_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("invalid schema syntax"))
	}))
	defer server.Close()

	if err := NewClient(server.URL).AddSchema(context.Background(), `invalid {`); err == nil {
		t.Error("expected error for invalid schema")
	}
}

func TestClient_Create(t *testing.T) {
	var query string
	server := gqlServer(t, `{"data": {"create_Project": [{"_docID": "bae-abc123"}]}}`, &query)

	docID, err := NewClient(server.URL).Create(context.Background(), "Project", map[string]any{
		"name": "Test Project",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if docID != "bae-abc123" {
		t.Errorf("unexpected docID: %s", docID)
	}
	if !strings.Contains(query, `create_Project(input: {name: "Test Project"})`) {
		t.Errorf("unexpected mutation: %s", query)
	}
}

func TestClient_Upsert(t *testing.T) {
	t.Run("returns doc id", func(t *testing.T) {
		var query string
		server := gqlServer(t, `{"data": {"upsert_Verse": [{"_docID": "bae-v1"}]}}`, &query)

		docID, err := NewClient(server.URL).Upsert(context.Background(), "Verse",
			map[string]any{"key": map[string]any{"_eq": "GEN-1-1"}},
			map[string]any{"key": "GEN-1-1"},
			map[string]any{"transcribed_text": "In the beginning"},
		)
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if docID != "bae-v1" {
			t.Errorf("unexpected docID %q", docID)
		}
		if !strings.Contains(query, `filter: {key: {_eq: "GEN-1-1"}}`) {
			t.Errorf("filter not rendered: %s", query)
		}
	})

	t.Run("empty response", func(t *testing.T) {
		server := gqlServer(t, `{"data": {"upsert_Verse": []}}`, nil)
		_, err := NewClient(server.URL).Upsert(context.Background(), "Verse", map[string]any{}, map[string]any{}, map[string]any{})
		if !errors.Is(err, ErrUnexpectedResponse) {
			t.Errorf("expected ErrUnexpectedResponse, got %v", err)
		}
	})

	t.Run("graphql error", func(t *testing.T) {
		server := gqlServer(t, `{"errors": [{"message": "multiple documents match"}]}`, nil)
		_, err := NewClient(server.URL).Upsert(context.Background(), "Verse", map[string]any{}, map[string]any{}, map[string]any{})
		if err == nil || !strings.Contains(err.Error(), "multiple documents match") {
			t.Errorf("expected upsert error, got %v", err)
		}
	})
}

func TestClient_DeleteWhere(t *testing.T) {
	var query string
	server := gqlServer(t, `{"data": {"delete_Verse": [{"_docID": "a"}, {"_docID": "b"}]}}`, &query)

	n, err := NewClient(server.URL).DeleteWhere(context.Background(), "Verse", map[string]any{"project_id": "p1"})
	if err != nil {
		t.Fatalf("DeleteWhere() error = %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	if !strings.Contains(query, `delete_Verse(filter: {project_id: {_eq: "p1"}})`) {
		t.Errorf("unexpected mutation: %s", query)
	}
}

func TestClient_URLNormalization(t *testing.T) {
	if got := NewClient("http://localhost:9181/").URL(); got != "http://localhost:9181" {
		t.Errorf("URL not normalized: %s", got)
	}
	if got := NewClient("http://localhost:9181").URL(); got != "http://localhost:9181" {
		t.Errorf("URL changed unexpectedly: %s", got)
	}
}

func TestValueToGraphQL(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"string", "Test", `"Test"`},
		{"string with control chars", "a\tb\"c", `"a\tb\"c"`},
		{"int", 42, `42`},
		{"bool", true, `true`},
		{"nested", map[string]any{"_eq": 3}, `{_eq: 3}`},
		{"array", []any{"x", 1}, `["x", 1]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := valueToGraphQL(tt.input)
			if err != nil {
				t.Fatalf("valueToGraphQL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("valueToGraphQL() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWaitHealthy(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := WaitHealthy(context.Background(), NewClient(server.URL), 5*time.Second); err != nil {
		t.Fatalf("WaitHealthy() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 health checks, got %d", calls)
	}
}

package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackzampolin/scribe/internal/defra"
)

func TestAll(t *testing.T) {
	schemas, err := All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(schemas) != 3 {
		t.Fatalf("expected 3 schemas, got %d", len(schemas))
	}

	for _, s := range schemas {
		if !strings.Contains(s.SDL, "type "+s.Name+" {") {
			t.Errorf("%s SDL doesn't declare its type", s.Name)
		}
		if !strings.Contains(s.SDL, "project_id: String @index") {
			t.Errorf("%s is not namespaced by project_id", s.Name)
		}
	}
}

func TestGet(t *testing.T) {
	t.Run("existing schema", func(t *testing.T) {
		s, err := Get(Verse)
		if err != nil {
			t.Fatalf("Get(Verse) error = %v", err)
		}
		for _, field := range []string{"key", "transcribed_text", "generated_audio", "is_approved", "last_updated"} {
			if !strings.Contains(s.SDL, field+":") {
				t.Errorf("Verse SDL missing %s", field)
			}
		}
	})

	t.Run("non-existent schema", func(t *testing.T) {
		if _, err := Get("NonExistent"); err == nil {
			t.Error("expected error for non-existent schema")
		}
	})
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"successful initialization", http.StatusOK, "", false},
		{"handles already exists error", http.StatusBadRequest, "collection already exists. Name: Verse", false},
		{"fails on other errors", http.StatusBadRequest, "invalid schema syntax", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v0/schema" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				calls++
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := Initialize(context.Background(), defra.NewClient(server.URL), slog.Default())
			if (err != nil) != tt.wantErr {
				t.Errorf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && calls != 3 {
				t.Errorf("expected 3 schema calls, got %d", calls)
			}
		})
	}
}

func TestIsAlreadyExistsError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"already exists", errors.New("collection already exists. Name: Walk"), true},
		{"other error", errors.New("invalid syntax"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAlreadyExistsError(tt.err); got != tt.want {
				t.Errorf("isAlreadyExistsError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInventory(t *testing.T) {
	rows := map[string]string{
		Project: `[{"_docID":"p1"}]`,
		Verse:   `[{"_docID":"v1"},{"_docID":"v2"},{"_docID":"v3"}]`,
		Walk:    `[{"_docID":"w1","status":"completed"},{"_docID":"w2","status":"interrupted"},{"_docID":"w3","status":"interrupted"}]`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req defra.GQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		for name, body := range rows {
			if strings.HasPrefix(req.Query, "{ "+name+" ") {
				fmt.Fprintf(w, `{"data":{%q:%s}}`, name, body)
				return
			}
		}
		t.Errorf("unexpected query %q", req.Query)
		w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	got, err := Inventory(context.Background(), defra.NewClient(server.URL))
	if err != nil {
		t.Fatalf("Inventory() error = %v", err)
	}
	want := map[string]int{Project: 1, Verse: 3, Walk: 3}
	if len(got) != len(want) {
		t.Fatalf("got %d collections, want %d", len(got), len(want))
	}
	for _, c := range got {
		if c.Documents != want[c.Name] {
			t.Errorf("%s documents = %d, want %d", c.Name, c.Documents, want[c.Name])
		}
	}
	walks := got[2]
	if walks.Name != Walk || walks.ByStatus["interrupted"] != 2 || walks.ByStatus["completed"] != 1 {
		t.Errorf("walk collection = %+v", walks)
	}
}

func TestInventory_MissingCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"Cannot query field \"Project\" on type \"Query\"."}]}`))
	}))
	defer server.Close()

	if _, err := Inventory(context.Background(), defra.NewClient(server.URL)); err == nil {
		t.Error("expected error for uninitialized collection")
	}
}

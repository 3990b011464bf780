package retrieval

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFormatContext(t *testing.T) {
	resp := &Response{Results: []Chunk{
		{FilePath: "internal/app/server.go", Text: "func main() {}"},
		{FilePath: "README.md", Text: "Usage notes."},
	}}

	out := FormatContext(resp)
	if !strings.Contains(out, "--- internal/app/server.go ---\nfunc main() {}") {
		t.Errorf("first chunk malformed:\n%s", out)
	}
	if !strings.Contains(out, "--- README.md ---\nUsage notes.") {
		t.Errorf("second chunk malformed:\n%s", out)
	}
	if !strings.Contains(out, "\n\n--- README.md") {
		t.Errorf("chunks not separated by a blank line:\n%s", out)
	}
}

func TestFormatContextEmpty(t *testing.T) {
	if got := FormatContext(nil); got != "" {
		t.Errorf("nil response = %q", got)
	}
	if got := FormatContext(&Response{}); got != "" {
		t.Errorf("empty response = %q", got)
	}
}

func TestClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"query":"how to log"`) {
			t.Errorf("body = %s", body)
		}
		io.WriteString(w, `{"results":[{"text":"slog.Info","file_path":"main.go","score":0.91}],"chunks_count":1,"sources_count":1}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	resp, err := c.Search(context.Background(), "how to log", "/w")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].FilePath != "main.go" {
		t.Errorf("response = %+v", resp)
	}
}

func TestClientSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index not built", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	if _, err := c.Search(context.Background(), "q", "/w"); err == nil {
		t.Fatal("server error not surfaced")
	}
}

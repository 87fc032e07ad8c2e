package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGuessIntype(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`https://example.com`, "txt"},
		{`{"url": "https://example.com"}`, "jl"},
	}
	for _, tt := range tests {
		if got := guessIntype(tt.line); got != tt.want {
			t.Errorf("guessIntype(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestReadQueriesTxt(t *testing.T) {
	path := writeInput(t, "https://a.example\n\nhttps://b.example\n")
	queries, err := readQueries(path, "auto")
	if err != nil {
		t.Fatal(err)
	}
	if len(queries) != 2 {
		t.Fatalf("got %d queries, want 2", len(queries))
	}
	q := queries[0]
	if q["url"] != "https://a.example" || q["browserHtml"] != true {
		t.Errorf("query = %v", q)
	}
	if q["echoData"] != "https://a.example" {
		t.Errorf("echoData = %v", q["echoData"])
	}
}

func TestReadQueriesJL(t *testing.T) {
	path := writeInput(t,
		`{"url": "https://a.example", "httpResponseBody": true}`+"\n"+
			`{"url": "https://b.example", "browserHtml": true, "echoData": "custom"}`+"\n")
	queries, err := readQueries(path, "auto")
	if err != nil {
		t.Fatal(err)
	}
	if len(queries) != 2 {
		t.Fatalf("got %d queries, want 2", len(queries))
	}
	if queries[0]["httpResponseBody"] != true {
		t.Errorf("query = %v", queries[0])
	}
	if queries[0]["echoData"] != "https://a.example" {
		t.Errorf("echoData = %v, want the url", queries[0]["echoData"])
	}
	if queries[1]["echoData"] != "custom" {
		t.Errorf("echoData = %v, want the explicit value", queries[1]["echoData"])
	}
}

func TestReadQueriesInvalidJL(t *testing.T) {
	path := writeInput(t, "{not json}\n")
	if _, err := readQueries(path, "jl"); err == nil {
		t.Fatal("expected an error for an invalid query line")
	}
}

func TestParseQueryUnknownIntype(t *testing.T) {
	if _, err := parseQuery("x", "csv"); err == nil {
		t.Fatal("expected an error for an unknown input type")
	}
}

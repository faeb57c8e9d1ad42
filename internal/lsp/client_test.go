package lsp

import (
	"encoding/json"
	"runtime"
	"testing"
)

func TestLanguageFromUser(t *testing.T) {
	cases := []struct {
		hint, path string
		want       Language
		ok         bool
	}{
		{"auto", "main.rs", LanguageRust, true},
		{"auto", "index.ts", LanguageTypeScript, true},
		{"", "app.jsx", LanguageTypeScript, true},
		{"rust", "whatever.txt", LanguageRust, true},
		{"auto", "README.md", "", false},
		{"cobol", "x.cob", "", false},
	}
	for _, c := range cases {
		got, ok := LanguageFromUser(c.hint, c.path)
		if got != c.want || ok != c.ok {
			t.Errorf("LanguageFromUser(%q, %q) = (%q, %v), want (%q, %v)", c.hint, c.path, got, ok, c.want, c.ok)
		}
	}
}

func TestFileURIRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file URI format differs on windows")
	}
	uri, err := fileURI("/tmp/example/file.go")
	if err != nil {
		t.Fatalf("fileURI: %v", err)
	}
	if uri != "file:///tmp/example/file.go" {
		t.Fatalf("fileURI = %q", uri)
	}

	path, err := pathFromURI(uri)
	if err != nil {
		t.Fatalf("pathFromURI: %v", err)
	}
	if path != "/tmp/example/file.go" {
		t.Fatalf("pathFromURI = %q", path)
	}
}

func TestParseLocationsFromLocationArray(t *testing.T) {
	raw := json.RawMessage(`[{"uri":"file:///tmp/a.go","range":{"start":{"line":4,"character":2},"end":{"line":4,"character":10}}}]`)
	locs := parseLocations(raw)
	if len(locs) != 1 {
		t.Fatalf("len(locs) = %d, want 1", len(locs))
	}
	if locs[0].Path != "/tmp/a.go" || locs[0].Line != 5 || locs[0].Col != 3 {
		t.Fatalf("locs[0] = %+v", locs[0])
	}
}

func TestParseLocationsFromLocationLink(t *testing.T) {
	raw := json.RawMessage(`[{"targetUri":"file:///tmp/b.go","targetSelectionRange":{"start":{"line":0,"character":0}},"targetRange":{"start":{"line":9,"character":9}}}]`)
	locs := parseLocations(raw)
	if len(locs) != 1 {
		t.Fatalf("len(locs) = %d, want 1", len(locs))
	}
	if locs[0].Line != 1 || locs[0].Col != 1 {
		t.Fatalf("expected targetSelectionRange to win over targetRange, got %+v", locs[0])
	}
}

func TestParseLocationsNull(t *testing.T) {
	if locs := parseLocations(json.RawMessage(`null`)); locs != nil {
		t.Fatalf("parseLocations(null) = %+v, want nil", locs)
	}
}

func TestParseHoverStringContents(t *testing.T) {
	if got := parseHover(json.RawMessage(`{"contents":"hello"}`)); got != "hello" {
		t.Fatalf("parseHover = %q", got)
	}
}

func TestParseHoverMarkedString(t *testing.T) {
	if got := parseHover(json.RawMessage(`{"contents":{"value":"hello **world**"}}`)); got != "hello **world**" {
		t.Fatalf("parseHover = %q", got)
	}
}

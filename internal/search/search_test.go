package search

import (
	"strings"
	"testing"
)

func TestFormatResults(t *testing.T) {
	out := FormatResults("go generics", []Item{
		{Title: "Go 1.18 Release Notes", URL: "https://go.dev/doc/go1.18", Snippet: "Generics land."},
		{Title: "Tutorial", URL: "https://go.dev/doc/tutorial/generics"},
	})

	if !strings.HasPrefix(out, `Search results for "go generics":`) {
		t.Errorf("header missing:\n%s", out)
	}
	if !strings.Contains(out, "1. Go 1.18 Release Notes") || !strings.Contains(out, "2. Tutorial") {
		t.Errorf("numbering wrong:\n%s", out)
	}
	if !strings.Contains(out, "Generics land.") {
		t.Errorf("snippet missing:\n%s", out)
	}
	if strings.HasSuffix(out, "\n") {
		t.Error("trailing whitespace not trimmed")
	}
}

func TestFormatResultsEmpty(t *testing.T) {
	out := FormatResults("nothing here", nil)
	if !strings.Contains(out, "No results") || !strings.Contains(out, "nothing here") {
		t.Errorf("empty format = %q", out)
	}
}

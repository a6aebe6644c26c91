package formats

import "testing"

func TestHasFormat(t *testing.T) {
	formats := []any{"markdown", "html", map[string]any{"type": "screenshot"}}
	if !HasFormat(formats, "markdown") {
		t.Fatalf("expected markdown to be present")
	}
	if !HasFormat(formats, "screenshot") {
		t.Fatalf("expected screenshot descriptor to be recognized")
	}
	if HasFormat(formats, "summary") {
		t.Fatalf("did not expect summary to be present")
	}
}

func TestNames(t *testing.T) {
	formats := []any{"Markdown", map[string]any{"type": "JSON"}, 42}
	names := Names(formats)
	if len(names) != 2 || names[0] != "markdown" || names[1] != "json" {
		t.Fatalf("unexpected names: %v", names)
	}
}

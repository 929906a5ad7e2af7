package channel

import (
	"strings"
	"testing"
)

func TestAllowList(t *testing.T) {
	if !NewAllowList(nil).Allowed("anyone") {
		t.Fatal("empty allow list should admit everyone")
	}
	if !NewAllowList([]string{" ", ""}).Allowed("anyone") {
		t.Fatal("blank-only allow list should admit everyone")
	}

	list := NewAllowList([]string{" 123 ", "456"})
	if !list.Allowed("123") {
		t.Fatal("expected 123 to be allowed")
	}
	if list.Allowed("789") {
		t.Fatal("expected 789 to be rejected")
	}
}

func TestPreviewText(t *testing.T) {
	long := strings.Repeat("a", messagePreviewLimit+10)
	got := PreviewText(long)
	if len(got) != messagePreviewLimit+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("preview = %q, want truncated text with ellipsis", got)
	}
	if got := PreviewText("  short  "); got != "short" {
		t.Fatalf("preview = %q, want %q", got, "short")
	}
}

func TestSplitText(t *testing.T) {
	chunks := SplitText("alpha beta gamma delta", 11)
	for _, chunk := range chunks {
		if len(chunk) > 11 {
			t.Fatalf("chunk %q exceeds limit", chunk)
		}
	}
	if got := strings.Join(chunks, " "); got != "alpha beta gamma delta" {
		t.Fatalf("rejoined = %q", got)
	}

	if got := SplitText("short", 100); len(got) != 1 {
		t.Fatalf("chunks = %d, want 1", len(got))
	}
	if got := SplitText(strings.Repeat("x", 25), 10); len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
}

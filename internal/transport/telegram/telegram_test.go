package telegram

import (
	"strings"
	"testing"
)

func TestSplitShortTextPassesThrough(t *testing.T) {
	got := splitTelegramText("hello", 100, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestSplitPrefersNewlines(t *testing.T) {
	text := strings.Repeat("line one is here\n", 20)
	chunks := splitTelegramText(text, 100, "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d over limit: %d runes", i, len([]rune(c)))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has dangling newline: %q", i, c)
		}
		// Every chunk should end on a line boundary from the input.
		if !strings.HasSuffix(c, "here") {
			t.Fatalf("chunk %d not cut at a newline: %q", i, c)
		}
	}
}

func TestSplitKeepsHTMLTagsIntact(t *testing.T) {
	// The cut would land inside "<b"; the whole tag moves to the next chunk.
	text := strings.Repeat("x", 98) + "<b>bold</b>"
	chunks := splitTelegramText(text, 100, "HTML")
	if len(chunks) < 2 {
		t.Fatalf("expected a split, got %v", chunks)
	}
	if chunks[0] != strings.Repeat("x", 98) {
		t.Fatalf("expected the first chunk cut before the tag, got %q", chunks[0])
	}
	for i, c := range chunks {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk %d splits inside a tag: %q", i, c)
		}
	}
}

func TestSplitCoversAllContent(t *testing.T) {
	text := strings.Repeat("abcdefghij", 120) // 1200 runes, no newlines
	chunks := splitTelegramText(text, 500, "")
	var total int
	for _, c := range chunks {
		total += len([]rune(c))
	}
	if total != 1200 {
		t.Fatalf("expected all 1200 runes preserved, got %d", total)
	}
	if joined := strings.Join(chunks, ""); joined != text {
		t.Fatalf("reassembled text differs from input")
	}
}

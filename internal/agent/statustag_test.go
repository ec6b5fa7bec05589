package agent

import "testing"

func TestStatusTagExtractor_PlainTextPassesThrough(t *testing.T) {
	var s statusTagExtractor
	clean, updates := s.feed("hello world")
	if clean != "hello world" || len(updates) != 0 {
		t.Fatalf("expected passthrough, got clean=%q updates=%v", clean, updates)
	}
}

func TestStatusTagExtractor_ExtractsTagWithinOneChunk(t *testing.T) {
	var s statusTagExtractor
	clean, updates := s.feed("before <status>thinking</status> after")
	if clean != "before  after" {
		t.Fatalf("expected stripped text, got %q", clean)
	}
	if len(updates) != 1 || updates[0] != "thinking" {
		t.Fatalf("expected one status update %q, got %v", "thinking", updates)
	}
}

func TestStatusTagExtractor_TagStraddlingChunkBoundary(t *testing.T) {
	var s statusTagExtractor
	var clean string
	var updates []string

	c1, u1 := s.feed("before <stat")
	clean += c1
	updates = append(updates, u1...)

	c2, u2 := s.feed("us>thinking</stat")
	clean += c2
	updates = append(updates, u2...)

	c3, u3 := s.feed("us> after")
	clean += c3
	updates = append(updates, u3...)

	if clean != "before  after" {
		t.Fatalf("expected stripped text across chunks, got %q", clean)
	}
	if len(updates) != 1 || updates[0] != "thinking" {
		t.Fatalf("expected one status update, got %v", updates)
	}
}

func TestStatusTagExtractor_PartialOpenPrefixNeverLeaksIntoCleanText(t *testing.T) {
	var s statusTagExtractor
	clean, _ := s.feed("hi <stat")
	if clean != "hi " {
		t.Fatalf("expected the suspected prefix withheld from clean text, got %q", clean)
	}
	if s.buffer != "<stat" {
		t.Fatalf("expected buffer to hold the suspected prefix, got %q", s.buffer)
	}
}

func TestStatusTagExtractor_FalsePositivePrefixResolvesBackToText(t *testing.T) {
	var s statusTagExtractor
	c1, _ := s.feed("value is <stat")
	c2, _ := s.feed("ic not a tag")
	clean := c1 + c2
	if clean != "value is <static not a tag" {
		t.Fatalf("expected the false-positive prefix to flow back into clean text, got %q", clean)
	}
}

func TestStatusTagExtractor_MultipleTagsInOneChunk(t *testing.T) {
	var s statusTagExtractor
	clean, updates := s.feed("<status>one</status>mid<status>two</status>")
	if clean != "mid" {
		t.Fatalf("expected only the non-tag text to remain, got %q", clean)
	}
	if len(updates) != 2 || updates[0] != "one" || updates[1] != "two" {
		t.Fatalf("expected both status updates in order, got %v", updates)
	}
}

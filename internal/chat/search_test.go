package chat

import (
	"context"
	"strings"
	"testing"
	"time"
)

func seedSearchData(t *testing.T) *Searcher {
	t.Helper()
	repo := NewRepo(openTestDB(t))

	seedSession(t, repo, "01SRCHAAAAAAAAAAAAAAAAAAAA", "alice", "Animal facts")
	if err := repo.InsertMessage(context.Background(), &Message{
		SessionID: "01SRCHAAAAAAAAAAAAAAAAAAAA",
		Owner:     "alice",
		Role:      RoleUser,
		Content:   "The quick brown fox",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.InsertMessage(context.Background(), &Message{
		SessionID: "01SRCHAAAAAAAAAAAAAAAAAAAA",
		Owner:     "alice",
		Role:      RoleAssistant,
		Content:   "Foxes are canids.\nThey jump over lazy dogs.",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return NewSearcher(repo)
}

func TestSearch_ExactSubstringScoresMaxAndHighlights(t *testing.T) {
	s := seedSearchData(t)

	matches, err := s.Search(context.Background(), "alice", "quick brown")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("expected a match")
	}
	// Message matches preserve scan order, so the fox line comes first.
	m := matches[0]
	if m.Score != searchMaxScore {
		t.Fatalf("exact substring should score max, got %f", m.Score)
	}
	if m.Line != "The quick brown fox" {
		t.Fatalf("unexpected line: %q", m.Line)
	}
	if m.Highlighted != "The **quick brown** fox" {
		t.Fatalf("unexpected highlight: %q", m.Highlighted)
	}
	if m.Role != RoleUser || m.LineNumber != 1 {
		t.Fatalf("unexpected annotations: role=%q line=%d", m.Role, m.LineNumber)
	}
}

func TestSearch_TypoStillMatchesViaFuzzyThreshold(t *testing.T) {
	s := seedSearchData(t)

	matches, err := s.Search(context.Background(), "alice", "qick brown")
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	var hit *SearchMatch
	for i := range matches {
		if matches[i].Line == "The quick brown fox" {
			hit = &matches[i]
		}
	}
	if hit == nil {
		t.Fatalf("typo query should still reach the line, got %+v", matches)
	}
	if hit.Score >= searchMaxScore || hit.Score < fuzzyThreshold {
		t.Fatalf("fuzzy score out of range: %f", hit.Score)
	}
	// No exact occurrence, so the line comes back unhighlighted.
	if hit.Highlighted != hit.Line {
		t.Fatalf("fuzzy-only match must not carry markers: %q", hit.Highlighted)
	}
}

func TestSearch_SessionNameMatchesComeFirstAtMaxScore(t *testing.T) {
	s := seedSearchData(t)

	matches, err := s.Search(context.Background(), "alice", "animal")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("expected a session-name match")
	}
	first := matches[0]
	if first.SessionName != "Animal facts" || first.Score != searchMaxScore {
		t.Fatalf("first match should be the session name at max score: %+v", first)
	}
	if first.Line != "" || first.LineNumber != 0 {
		t.Fatalf("name matches carry no line info: %+v", first)
	}
}

func TestSearch_LineNumbersAreOneBasedPerMessage(t *testing.T) {
	s := seedSearchData(t)

	matches, err := s.Search(context.Background(), "alice", "lazy dogs")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var hit *SearchMatch
	for i := range matches {
		if strings.Contains(matches[i].Line, "lazy dogs") {
			hit = &matches[i]
		}
	}
	if hit == nil {
		t.Fatalf("expected to match the second line, got %+v", matches)
	}
	if hit.LineNumber != 2 || hit.Role != RoleAssistant {
		t.Fatalf("unexpected annotations: line=%d role=%q", hit.LineNumber, hit.Role)
	}
}

func TestSearch_OtherOwnersInvisible(t *testing.T) {
	s := seedSearchData(t)

	matches, err := s.Search(context.Background(), "bob", "quick brown")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("bob must not see alice's history: %+v", matches)
	}
}

func TestSearch_NoMatchForUnrelatedQuery(t *testing.T) {
	s := seedSearchData(t)

	matches, err := s.Search(context.Background(), "alice", "zzzzzzzz")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %+v", matches)
	}
}

package chat

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// SearchMatch is one hit. Session-name matches carry no role, line
// number, or line text.
type SearchMatch struct {
	SessionID   string    `json:"session_id"`
	SessionName string    `json:"session_name"`
	Role        string    `json:"role,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	LineNumber  int       `json:"line_number,omitempty"` // 1-based within the message
	Score       float64   `json:"score"`
	Line        string    `json:"line,omitempty"`
	Highlighted string    `json:"highlighted,omitempty"`
}

const (
	searchMaxScore  = 1.0
	fuzzyThreshold  = 0.2 // low on purpose: recall over precision
	scanMaxSessions = 50
	scanMaxMessages = 1000
)

// Searcher scans the store directly, not the cache, so results cover
// the full persisted history. Read-only.
type Searcher struct {
	repo        *Repo
	maxSessions int
	maxMessages int
	threshold   float64
}

func NewSearcher(repo *Repo) *Searcher {
	return &Searcher{
		repo:        repo,
		maxSessions: scanMaxSessions,
		maxMessages: scanMaxMessages,
		threshold:   fuzzyThreshold,
	}
}

// Search returns session-name matches first (always at max score), then
// message-line matches in scan order: most recently updated sessions
// first, lines in message order. A line matches when it contains the
// query case-insensitively or its similarity ratio meets the threshold.
func (s *Searcher) Search(ctx context.Context, owner, query string) ([]SearchMatch, error) {
	sessions, err := s.repo.ListSessions(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(sessions) > s.maxSessions {
		sessions = sessions[:s.maxSessions]
	}

	loweredQuery := strings.ToLower(query)
	highlighter := regexp.MustCompile("(?i)" + regexp.QuoteMeta(query))

	var nameMatches []SearchMatch
	for _, sess := range sessions {
		if strings.Contains(strings.ToLower(sess.DisplayName), loweredQuery) {
			nameMatches = append(nameMatches, SearchMatch{
				SessionID:   sess.SessionID,
				SessionName: sess.DisplayName,
				Timestamp:   sess.UpdatedAt,
				Score:       searchMaxScore,
			})
		}
	}

	var msgMatches []SearchMatch
	scanned := 0
	for _, sess := range sessions {
		if scanned >= s.maxMessages {
			break
		}
		msgs, err := s.repo.ListMessages(ctx, sess.SessionID, s.maxMessages-scanned)
		if err != nil {
			return nil, err
		}
		scanned += len(msgs)
		for _, m := range msgs {
			for i, line := range strings.Split(m.Content, "\n") {
				score, hit := matchLine(line, loweredQuery, s.threshold)
				if !hit {
					continue
				}
				msgMatches = append(msgMatches, SearchMatch{
					SessionID:   sess.SessionID,
					SessionName: sess.DisplayName,
					Role:        m.Role,
					Timestamp:   m.Timestamp,
					LineNumber:  i + 1,
					Score:       score,
					Line:        line,
					Highlighted: highlighter.ReplaceAllString(line, "**$0**"),
				})
			}
		}
	}

	return append(nameMatches, msgMatches...), nil
}

// matchLine scores one line against the lowercased query. Exact
// substring containment scores max; otherwise the score is the LCS
// similarity ratio of the lowercased pair.
func matchLine(line, loweredQuery string, threshold float64) (float64, bool) {
	lowered := strings.ToLower(line)
	if strings.Contains(lowered, loweredQuery) {
		return searchMaxScore, true
	}
	ratio := similarity(lowered, loweredQuery)
	return ratio, ratio >= threshold
}

func similarity(a, b string) float64 {
	return difflib.NewMatcher(splitChars(a), splitChars(b)).Ratio()
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

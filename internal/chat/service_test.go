package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chatstore/internal/ratelimit"
)

func newTestService(t *testing.T, limiter ratelimit.Limiter) *Service {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return NewService(repo, NewCache(DefaultMaxCachedSessions), limiter, nil, zerolog.Nop())
}

func TestAppendMessage_ThenGetHistoryObservesIt(t *testing.T) {
	svc := newTestService(t, nil)

	sid, err := svc.CreateSession(context.Background(), "alice", "greetings")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := svc.AppendMessage(context.Background(), sid, "alice", RoleUser, "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}

	pairs, err := svc.GetHistory(context.Background(), sid, "alice", 0)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(pairs) != 1 || pairs[0].User != "hi" || pairs[0].Assistant != "" {
		t.Fatalf("expected [(hi, \"\")], got %+v", pairs)
	}
}

func TestAppendMessage_WriteThroughAfterCachedRead(t *testing.T) {
	svc := newTestService(t, nil)

	sid, _ := svc.CreateSession(context.Background(), "alice", "cached")
	if err := svc.AppendMessage(context.Background(), sid, "alice", RoleUser, "first"); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Populate the history cache.
	if _, err := svc.GetHistory(context.Background(), sid, "alice", 0); err != nil {
		t.Fatalf("get history: %v", err)
	}
	if err := svc.AppendMessage(context.Background(), sid, "alice", RoleAssistant, "second"); err != nil {
		t.Fatalf("append: %v", err)
	}

	pairs, err := svc.GetHistory(context.Background(), sid, "alice", 0)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(pairs) != 1 || pairs[0].User != "first" || pairs[0].Assistant != "second" {
		t.Fatalf("cached read missed the write-through append: %+v", pairs)
	}
}

func TestAppendMessage_AutoCreatesAndNamesSession(t *testing.T) {
	svc := newTestService(t, nil)

	long := strings.Repeat("a", 60)
	if err := svc.AppendMessage(context.Background(), "01AUTOAAAAAAAAAAAAAAAAAAAA", "alice", RoleUser, long); err != nil {
		t.Fatalf("append: %v", err)
	}

	metas, err := svc.ListSessions(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("expected 1 session, got %d", len(metas))
	}
	if metas[0].DisplayName != strings.Repeat("a", 50) {
		t.Fatalf("auto name should clip to 50 chars, got %q", metas[0].DisplayName)
	}
}

func TestAppendMessage_AssistantFirstGetsFallbackName(t *testing.T) {
	svc := newTestService(t, nil)

	if err := svc.AppendMessage(context.Background(), "01AUTOBBBBBBBBBBBBBBBBBBBB", "alice", RoleAssistant, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	metas, _ := svc.ListSessions(context.Background(), "alice")
	if len(metas) != 1 || metas[0].DisplayName != "Chat 01AUTOBB" {
		t.Fatalf("unexpected fallback name: %+v", metas)
	}
}

func TestAppendMessage_OtherOwnersSessionLooksAbsent(t *testing.T) {
	svc := newTestService(t, nil)

	sid, _ := svc.CreateSession(context.Background(), "alice", "private")
	err := svc.AppendMessage(context.Background(), sid, "mallory", RoleUser, "let me in")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessage_Validation(t *testing.T) {
	svc := newTestService(t, nil)

	cases := []struct {
		name                            string
		sessionID, owner, role, content string
	}{
		{"empty session", "", "alice", RoleUser, "x"},
		{"empty owner", "s", "", RoleUser, "x"},
		{"empty content", "s", "alice", RoleUser, ""},
		{"bad role", "s", "alice", "system", "x"},
	}
	for _, tc := range cases {
		if err := svc.AppendMessage(context.Background(), tc.sessionID, tc.owner, tc.role, tc.content); err != ErrValidation {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestGetHistory_PairsTrailingUserWithEmptyAssistant(t *testing.T) {
	svc := newTestService(t, nil)

	sid, _ := svc.CreateSession(context.Background(), "alice", "pairs")
	for _, m := range []struct{ role, content string }{
		{RoleUser, "q1"},
		{RoleAssistant, "a1"},
		{RoleUser, "q2"},
	} {
		if err := svc.AppendMessage(context.Background(), sid, "alice", m.role, m.content); err != nil {
			t.Fatalf("append %q: %v", m.content, err)
		}
	}

	pairs, err := svc.GetHistory(context.Background(), sid, "alice", 0)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	want := []Pair{{User: "q1", Assistant: "a1"}, {User: "q2", Assistant: ""}}
	if len(pairs) != len(want) {
		t.Fatalf("expected %d pairs, got %+v", len(want), pairs)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Fatalf("pair %d: got %+v, want %+v", i, pairs[i], want[i])
		}
	}
}

func TestGetHistory_UnknownSessionReadsEmpty(t *testing.T) {
	svc := newTestService(t, nil)

	pairs, err := svc.GetHistory(context.Background(), "01NOPEAAAAAAAAAAAAAAAAAAAA", "alice", 0)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(pairs) != 0 {
		t.Fatalf("expected empty history, got %+v", pairs)
	}
}

func TestRenameSession_IdempotentRenameKeepsUpdatedAt(t *testing.T) {
	svc := newTestService(t, nil)

	sid, _ := svc.CreateSession(context.Background(), "alice", "stable name")
	if err := svc.AppendMessage(context.Background(), sid, "alice", RoleUser, "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	before, err := svc.RenameSession(context.Background(), sid, "alice", "stable name")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	after, err := svc.RenameSession(context.Background(), sid, "alice", "stable name")
	if err != nil {
		t.Fatalf("rename again: %v", err)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("same-name rename moved updated_at: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}

	pairs, err := svc.GetHistory(context.Background(), sid, "alice", 0)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(pairs) != 1 || pairs[0].User != "hi" {
		t.Fatalf("history affected by rename: %+v", pairs)
	}
}

func TestRenameSession_Renames(t *testing.T) {
	svc := newTestService(t, nil)

	sid, _ := svc.CreateSession(context.Background(), "alice", "old")
	meta, err := svc.RenameSession(context.Background(), sid, "alice", "new")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if meta.DisplayName != "new" {
		t.Fatalf("expected new name, got %q", meta.DisplayName)
	}

	if _, err := svc.RenameSession(context.Background(), sid, "mallory", "mine now"); err != ErrNotFound {
		t.Fatalf("wrong owner rename: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.RenameSession(context.Background(), "missing", "alice", "x"); err != ErrNotFound {
		t.Fatalf("missing session rename: expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSession_FinalityAndFreshRecreation(t *testing.T) {
	svc := newTestService(t, nil)

	sid, _ := svc.CreateSession(context.Background(), "alice", "doomed")
	if err := svc.AppendMessage(context.Background(), sid, "alice", RoleUser, "old life"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := svc.GetHistory(context.Background(), sid, "alice", 0); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	deleted, err := svc.DeleteSession(context.Background(), sid, "alice")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatalf("expected deletion")
	}

	pairs, err := svc.GetHistory(context.Background(), sid, "alice", 0)
	if err != nil {
		t.Fatalf("get history after delete: %v", err)
	}
	if len(pairs) != 0 {
		t.Fatalf("deleted session still readable: %+v", pairs)
	}

	// Appending to the same id starts a brand-new session.
	if err := svc.AppendMessage(context.Background(), sid, "alice", RoleUser, "new life"); err != nil {
		t.Fatalf("append after delete: %v", err)
	}
	pairs, err = svc.GetHistory(context.Background(), sid, "alice", 0)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(pairs) != 1 || pairs[0].User != "new life" {
		t.Fatalf("recreated session resurrected old history: %+v", pairs)
	}
}

func TestDeleteAllForOwner(t *testing.T) {
	svc := newTestService(t, nil)

	s1, _ := svc.CreateSession(context.Background(), "alice", "one")
	s2, _ := svc.CreateSession(context.Background(), "alice", "two")
	other, _ := svc.CreateSession(context.Background(), "bob", "bobs")
	for _, sid := range []string{s1, s2, other} {
		owner := "alice"
		if sid == other {
			owner = "bob"
		}
		if err := svc.AppendMessage(context.Background(), sid, owner, RoleUser, "hi"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := svc.DeleteAllForOwner(context.Background(), "alice"); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	metas, _ := svc.ListSessions(context.Background(), "alice")
	if len(metas) != 0 {
		t.Fatalf("alice still has sessions: %+v", metas)
	}
	pairs, _ := svc.GetHistory(context.Background(), other, "bob", 0)
	if len(pairs) != 1 {
		t.Fatalf("bob's history should be untouched: %+v", pairs)
	}
}

func TestService_RateLimited(t *testing.T) {
	limiter := ratelimit.NewSlidingWindow(map[ratelimit.Class]ratelimit.Limit{
		ratelimit.ClassChat: {Max: 2, Window: time.Minute},
	})
	svc := newTestService(t, limiter)

	sid, err := svc.CreateSession(context.Background(), "alice", "budget")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := svc.AppendMessage(context.Background(), sid, "alice", RoleUser, "hi"); err != nil {
		t.Fatalf("append within quota: %v", err)
	}
	if err := svc.AppendMessage(context.Background(), sid, "alice", RoleUser, "again"); err != ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// Another identity has its own budget.
	if err := svc.AppendMessage(context.Background(), "01OTHRAAAAAAAAAAAAAAAAAAAA", "bob", RoleUser, "hi"); err != nil {
		t.Fatalf("bob should be admitted: %v", err)
	}
}

func TestSearchHistory_CountsSearchesBestEffort(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	svc := NewService(repo, NewCache(10), ratelimit.Unlimited{}, nil, zerolog.Nop())

	sid, _ := svc.CreateSession(context.Background(), "alice", "counted")
	if err := svc.AppendMessage(context.Background(), sid, "alice", RoleUser, "The quick brown fox"); err != nil {
		t.Fatalf("append: %v", err)
	}

	matches, err := svc.SearchHistory(context.Background(), "alice", "quick brown")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("expected matches")
	}
	n, err := repo.Searches(context.Background(), "alice")
	if err != nil {
		t.Fatalf("searches: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recorded search, got %d", n)
	}
}

func TestLimitInfoIntrospection(t *testing.T) {
	limiter := ratelimit.NewSlidingWindow(nil)
	svc := newTestService(t, limiter)

	limit, ok := svc.LimitInfo(ratelimit.ClassChat)
	if !ok || limit.Max == 0 || limit.Window == 0 {
		t.Fatalf("expected configured chat limit, got %+v ok=%v", limit, ok)
	}
}

func TestGetHistory_ConcurrentMissFillAndAppendStayConsistent(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	cache := NewCache(DefaultMaxCachedSessions)
	svc := NewService(repo, cache, ratelimit.Unlimited{}, nil, zerolog.Nop())

	sid, err := svc.CreateSession(context.Background(), "alice", "busy")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := svc.AppendMessage(context.Background(), sid, "alice", RoleUser, "m0"); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Race a cache-miss read against a write, then check that the
	// cached history renders exactly the store's messages. An unlocked
	// miss-fill can capture the writer's fresh row from the store and
	// then receive the writer's cache append on top, serving the
	// message twice on every later cached read.
	for i := 1; i <= 25; i++ {
		cache.Invalidate(sid)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := svc.AppendMessage(context.Background(), sid, "alice", RoleUser, fmt.Sprintf("m%d", i)); err != nil {
				t.Errorf("append m%d: %v", i, err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := svc.GetHistory(context.Background(), sid, "alice", 0); err != nil {
				t.Errorf("get history: %v", err)
			}
		}()
		wg.Wait()

		msgs, err := repo.ListMessages(context.Background(), sid, 0)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		pairs, err := svc.GetHistory(context.Background(), sid, "alice", 0)
		if err != nil {
			t.Fatalf("get history: %v", err)
		}
		if len(pairs) != len(msgs) {
			t.Fatalf("iteration %d: cache diverged from store: %d pairs from %d messages", i, len(pairs), len(msgs))
		}
	}
}

func TestGetHistory_UsesConfiguredDefaultLimit(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	cache := NewCache(DefaultMaxCachedSessions)
	svc := NewService(repo, cache, ratelimit.Unlimited{}, nil, zerolog.Nop(), WithHistoryLimit(1))

	sid, err := svc.CreateSession(context.Background(), "alice", "long chat")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, m := range []string{"first", "second"} {
		if err := svc.AppendMessage(context.Background(), sid, "alice", RoleUser, m); err != nil {
			t.Fatalf("append %q: %v", m, err)
		}
	}

	// limit 0 falls back to the configured default, not the package
	// constant.
	pairs, err := svc.GetHistory(context.Background(), sid, "alice", 0)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(pairs) != 1 || pairs[0].User != "first" {
		t.Fatalf("expected the single oldest message, got %+v", pairs)
	}

	// An explicit limit still wins.
	cache.Invalidate(sid)
	pairs, err = svc.GetHistory(context.Background(), sid, "alice", 2)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected both messages with explicit limit, got %+v", pairs)
	}
}

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/codementor/dbopen"
	"github.com/hazyhaar/codementor/problem"
	"github.com/hazyhaar/codementor/watch"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return &Store{DB: dbopen.OpenMemory(t, dbopen.WithSchema(Schema))}
}

func snap(id, page, lang, code string, at int64) *problem.Snapshot {
	return &problem.Snapshot{
		ID:         id,
		PageID:     page,
		Title:      "Two Sum",
		Difficulty: problem.Easy,
		Language:   lang,
		UserCode:   code,
		URL:        "https://leetcode.com/problems/two-sum/",
		CapturedAt: at,
	}
}

func version(t *testing.T, s *Store) int64 {
	t.Helper()
	v, err := watch.PragmaUserVersion(context.Background(), s.DB)
	if err != nil {
		t.Fatalf("user_version: %v", err)
	}
	return v
}

func TestProblemUpsertAndCurrent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.CurrentProblem(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: got %v, want ErrNotFound", err)
	}

	if err := s.UpsertProblem(ctx, snap("s1", "p1", "Python3", "", 1000)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertProblem(ctx, snap("s2", "p1", "Python3", "x = 1", 2000)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	cur, err := s.CurrentProblem(ctx, "p1")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if cur.ID != "s2" || cur.UserCode != "x = 1" {
		t.Errorf("current: got id=%q code=%q", cur.ID, cur.UserCode)
	}
	if cur.UpdatedAt == 0 {
		t.Error("UpdatedAt not set")
	}

	hist, err := s.History(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].ID != "s2" || hist[1].ID != "s1" {
		t.Fatalf("history order: %+v", hist)
	}
	if v := version(t, s); v != 2 {
		t.Errorf("user_version: got %d, want 2", v)
	}
}

func TestCurrentProblem_MostRecentPage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertProblem(ctx, snap("a", "p1", "Java", "", 1))
	if _, err := s.DB.Exec(`UPDATE current_problem SET updated_at = 1 WHERE page_id = 'p1'`); err != nil {
		t.Fatal(err)
	}
	s.UpsertProblem(ctx, snap("b", "p2", "Go", "", 2))

	cur, err := s.CurrentProblem(ctx, "")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if cur.PageID != "p2" {
		t.Errorf("page: got %q, want p2", cur.PageID)
	}

	all, err := s.ListCurrent(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("list: got %d, want 2", len(all))
	}
}

func TestClearProblem(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertProblem(ctx, snap("s1", "p1", "C++", "", 1))
	before := version(t, s)

	removed, err := s.ClearProblem(ctx, "p1")
	if err != nil || !removed {
		t.Fatalf("clear: removed=%v err=%v", removed, err)
	}
	if _, err := s.CurrentProblem(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after clear: got %v", err)
	}
	if version(t, s) != before+1 {
		t.Error("clear did not bump the revision")
	}

	removed, err = s.ClearProblem(ctx, "p1")
	if err != nil || removed {
		t.Fatalf("second clear: removed=%v err=%v", removed, err)
	}
	if version(t, s) != before+1 {
		t.Error("no-op clear bumped the revision")
	}

	hist, _ := s.History(ctx, "p1", 0)
	if len(hist) != 1 {
		t.Errorf("history kept: got %d, want 1", len(hist))
	}
}

func TestPruneHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.UpsertProblem(ctx, snap("old", "p1", "Go", "", 100))
	s.UpsertProblem(ctx, snap("new", "p1", "Go", "a", 900))

	n, err := s.PruneHistory(ctx, 500)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned: got %d, want 1", n)
	}
	hist, _ := s.History(ctx, "", 0)
	if len(hist) != 1 || hist[0].ID != "new" {
		t.Errorf("remaining: %+v", hist)
	}
}

func TestKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.GetKey(ctx, "openai"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key: got %v", err)
	}
	for _, p := range []string{"openai", "google"} {
		if err := s.PutKey(ctx, &SealedKey{Provider: p, Nonce: []byte("n"), Ciphertext: []byte("c-" + p)}); err != nil {
			t.Fatalf("put %s: %v", p, err)
		}
	}
	s.PutKey(ctx, &SealedKey{Provider: "openai", Nonce: []byte("n2"), Ciphertext: []byte("c2")})

	k, err := s.GetKey(ctx, "openai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(k.Ciphertext) != "c2" || string(k.Nonce) != "n2" {
		t.Errorf("replace: got %q/%q", k.Nonce, k.Ciphertext)
	}

	list, _ := s.ListKeys(ctx)
	if len(list) != 2 || list[0].Provider != "google" {
		t.Fatalf("list: %+v", list)
	}

	if n, _ := s.DeleteKey(ctx, "google"); n != 1 {
		t.Errorf("delete one: got %d", n)
	}
	if n, _ := s.DeleteKey(ctx, ""); n != 1 {
		t.Errorf("delete all: got %d", n)
	}
	if list, _ := s.ListKeys(ctx); len(list) != 0 {
		t.Errorf("after delete all: %+v", list)
	}
}

func TestVaultMeta_InitOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.GetVaultMeta(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty: got %v", err)
	}
	first, err := s.InitVaultMeta(ctx, &VaultMeta{Salt: []byte("salt1"), VerifierNonce: []byte("n"), Verifier: []byte("v")})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	second, err := s.InitVaultMeta(ctx, &VaultMeta{Salt: []byte("salt2"), VerifierNonce: []byte("n"), Verifier: []byte("v")})
	if err != nil {
		t.Fatalf("init again: %v", err)
	}
	if string(first.Salt) != "salt1" || string(second.Salt) != "salt1" {
		t.Errorf("salt: first=%q second=%q", first.Salt, second.Salt)
	}

	s.PutKey(ctx, &SealedKey{Provider: "openai", Nonce: []byte("n"), Ciphertext: []byte("c")})
	if err := s.ResetVault(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := s.GetVaultMeta(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("after reset: got %v", err)
	}
	if list, _ := s.ListKeys(ctx); len(list) != 0 {
		t.Errorf("keys after reset: %+v", list)
	}
}

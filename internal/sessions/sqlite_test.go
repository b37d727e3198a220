package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/agentd/pkg/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(&SQLiteConfig{Path: ":memory:", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreSessionLifecycle(t *testing.T) {
	store := newTestSQLiteStore(t)
	session := &models.Session{Title: "first", ProviderName: "anthropic", Model: "claude-sonnet"}

	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected session id to be assigned")
	}

	loaded, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if loaded.Title != "first" || loaded.Model != "claude-sonnet" {
		t.Fatalf("loaded = %+v", loaded)
	}

	loaded.Title = "updated"
	if err := store.UpdateSession(context.Background(), loaded); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}

	updated, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if updated.Title != "updated" {
		t.Fatal("expected title to update")
	}

	if err := store.ArchiveSession(context.Background(), session.ID); err != nil {
		t.Fatalf("ArchiveSession() error = %v", err)
	}
	archived, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if !archived.Archived {
		t.Fatal("expected session to be archived")
	}
}

func TestSQLiteStoreGetMissingSession(t *testing.T) {
	store := newTestSQLiteStore(t)
	if _, err := store.GetSession(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSQLiteStoreUpdateMissingSessionReturnsNotFound(t *testing.T) {
	store := newTestSQLiteStore(t)
	err := store.UpdateSession(context.Background(), &models.Session{ID: "nope", Title: "x"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSQLiteStoreAppendMessageAssignsGaplessSequence(t *testing.T) {
	store := newTestSQLiteStore(t)
	session := &models.Session{}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		msg := &models.Message{SessionID: session.ID, Role: models.RoleUser, Content: "hi"}
		if err := store.AppendMessage(context.Background(), msg); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
		if msg.Sequence != int64(i+1) {
			t.Fatalf("Sequence = %d, want %d", msg.Sequence, i+1)
		}
	}

	msgs, err := store.ListMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m.Sequence != int64(i+1) {
			t.Errorf("msgs[%d].Sequence = %d, want %d", i, m.Sequence, i+1)
		}
	}
}

func TestSQLiteStoreAppendMessageUnknownSession(t *testing.T) {
	store := newTestSQLiteStore(t)
	err := store.AppendMessage(context.Background(), &models.Message{SessionID: "nope", Content: "hi"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSQLiteStoreDeleteMessagesResetsSequenceCounter(t *testing.T) {
	store := newTestSQLiteStore(t)
	session := &models.Session{}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := store.AppendMessage(context.Background(), &models.Message{SessionID: session.ID, Content: "hi"}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}
	if err := store.DeleteMessages(context.Background(), session.ID); err != nil {
		t.Fatalf("DeleteMessages() error = %v", err)
	}

	msgs, err := store.ListMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("len(msgs) = %d, want 0 after delete", len(msgs))
	}

	next := &models.Message{SessionID: session.ID, Content: "after delete"}
	if err := store.AppendMessage(context.Background(), next); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if next.Sequence != 1 {
		t.Fatalf("Sequence after delete = %d, want 1 (numbering restarts after delete)", next.Sequence)
	}
}

func TestSQLiteStoreCountMessages(t *testing.T) {
	store := newTestSQLiteStore(t)
	session := &models.Session{}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	store.AppendMessage(context.Background(), &models.Message{SessionID: session.ID, Content: "a"})
	store.AppendMessage(context.Background(), &models.Message{SessionID: session.ID, Content: "b"})

	count, err := store.CountMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestSQLiteStorePlanRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	session := &models.Session{}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	items := []models.PlanItem{{ID: "1", Text: "do thing"}, {ID: "2", Text: "do other thing", Done: true}}
	if err := store.SetPlan(context.Background(), session.ID, items); err != nil {
		t.Fatalf("SetPlan() error = %v", err)
	}

	got, err := store.GetPlan(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if len(got) != 2 || !got[1].Done {
		t.Fatalf("GetPlan() = %+v", got)
	}

	// SetPlan replaces wholesale, not merges.
	if err := store.SetPlan(context.Background(), session.ID, []models.PlanItem{{ID: "3", Text: "only this"}}); err != nil {
		t.Fatalf("SetPlan() error = %v", err)
	}
	got, err = store.GetPlan(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "3" {
		t.Fatalf("GetPlan() after replace = %+v", got)
	}
}

func TestSQLiteStoreMessageCostRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	session := &models.Session{}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	withCost := 0.042
	if err := store.AppendMessage(context.Background(), &models.Message{SessionID: session.ID, Content: "priced", Cost: &withCost}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if err := store.AppendMessage(context.Background(), &models.Message{SessionID: session.ID, Content: "free"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	msgs, err := store.ListMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if msgs[0].Cost == nil || *msgs[0].Cost != withCost {
		t.Fatalf("msgs[0].Cost = %v, want %v", msgs[0].Cost, withCost)
	}
	if msgs[1].Cost != nil {
		t.Fatalf("msgs[1].Cost = %v, want nil", msgs[1].Cost)
	}
}

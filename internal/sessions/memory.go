package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentd/pkg/models"
)

// maxMessagesPerSession bounds in-memory growth; the oldest messages are
// trimmed once exceeded. Real deployments use SQLiteStore instead.
const maxMessagesPerSession = 1000

// MemoryStore is an in-memory Store, used for tests and single-process runs
// without persistence across restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
	plans    map[string][]models.PlanItem
	nextSeq  map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
		plans:    make(map[string][]models.PlanItem),
		nextSeq:  make(map[string]int64),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = clone.CreatedAt
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt
	m.sessions[clone.ID] = clone
	m.nextSeq[clone.ID] = 1
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[session.ID]
	if !ok {
		return ErrSessionNotFound
	}
	clone := cloneSession(session)
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	m.sessions[clone.ID] = clone
	return nil
}

func (m *MemoryStore) ArchiveSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.Archived = true
	session.UpdatedAt = time.Now()
	return nil
}

// AppendMessage assigns the next gapless sequence number for the session
// under the store lock, so concurrent appends (across sessions) never race
// on a single session's numbering.
func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[msg.SessionID]; !ok {
		return ErrSessionNotFound
	}
	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.Sequence = m.nextSeq[msg.SessionID]
	m.nextSeq[msg.SessionID]++
	msg.ID = clone.ID
	msg.Sequence = clone.Sequence
	msg.CreatedAt = clone.CreatedAt

	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], clone)
	if len(m.messages[msg.SessionID]) > maxMessagesPerSession {
		excess := len(m.messages[msg.SessionID]) - maxMessagesPerSession
		m.messages[msg.SessionID] = m.messages[msg.SessionID][excess:]
	}
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	messages := m.messages[sessionID]
	out := make([]*models.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[sessionID]), nil
}

// DeleteMessages clears a session's history and resets its sequence
// counter, so the next AppendMessage (e.g. compaction's replacement
// message) restarts numbering at 1 instead of continuing the old count.
func (m *MemoryStore) DeleteMessages(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, sessionID)
	if _, ok := m.sessions[sessionID]; ok {
		m.nextSeq[sessionID] = 1
	}
	return nil
}

func (m *MemoryStore) GetPlan(ctx context.Context, sessionID string) ([]models.PlanItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.plans[sessionID]
	out := make([]models.PlanItem, len(items))
	copy(out, items)
	return out, nil
}

func (m *MemoryStore) SetPlan(ctx context.Context, sessionID string, items []models.PlanItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := make([]models.PlanItem, len(items))
	copy(clone, items)
	m.plans[sessionID] = clone
	return nil
}

func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	clone := *session
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if msg.Cost != nil {
		cost := *msg.Cost
		clone.Cost = &cost
	}
	return &clone
}

// Package sessions implements the C2 persistence component: session and
// message storage with monotone per-session sequence numbers.
package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/agentd/pkg/models"
)

// ErrSessionNotFound is returned by Get/AppendMessage when the referenced
// session id does not exist.
var ErrSessionNotFound = errors.New("sessions: session not found")

// Store is the persistence interface for sessions, messages, and plans.
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	ArchiveSession(ctx context.Context, id string) error

	// AppendMessage assigns msg.Sequence atomically (current max + 1) and
	// persists it. Returns ErrSessionNotFound if the session doesn't exist.
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// DeleteMessages removes every message for sessionID; used by
	// compaction before the summary replacement message is appended.
	DeleteMessages(ctx context.Context, sessionID string) error

	GetPlan(ctx context.Context, sessionID string) ([]models.PlanItem, error)
	SetPlan(ctx context.Context, sessionID string, items []models.PlanItem) error
}

package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/finnetrolle/nergal-sub000/pkg/config"
	"github.com/finnetrolle/nergal-sub000/pkg/database"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// maxContextFacts caps how many facts feed one turn's context.
const maxContextFacts = 50

// Service assembles per-user memory context and owns the write paths of the
// long-term tier. All methods are safe for concurrent use.
type Service struct {
	cfg      config.MemoryConfig
	users    *UserRepository
	profiles *ProfileRepository
	facts    *FactRepository
	messages *MessageRepository
	sessions *SessionRepository
	events   *ExtractionEventRepository
	logger   *slog.Logger
}

// NewService wires the repositories over the shared database client.
func NewService(cfg config.MemoryConfig, db *database.Client) *Service {
	pool := db.Pool()
	return &Service{
		cfg:      cfg,
		users:    NewUserRepository(pool),
		profiles: NewProfileRepository(pool),
		facts:    NewFactRepository(pool),
		messages: NewMessageRepository(pool),
		sessions: NewSessionRepository(pool),
		events:   NewExtractionEventRepository(pool),
		logger:   slog.Default(),
	}
}

// Users exposes the user repository for the admin surface.
func (s *Service) Users() *UserRepository { return s.users }

// GetUser returns the stored user row, or nil when the user is unknown.
func (s *Service) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.users.Get(ctx, telegramID)
}

// GetMemoryContext assembles everything known about the user. A user with no
// rows yields an ephemeral empty context, never a not-found error.
func (s *Service) GetMemoryContext(ctx context.Context, userID int64, includeHistory bool, historyLimit int) (*models.UserMemoryContext, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &models.User{TelegramID: userID, IsAllowed: true}
	}

	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	facts, err := s.facts.ListByUser(ctx, userID, maxContextFacts)
	if err != nil {
		return nil, err
	}

	var recent []*models.ConversationMessage
	if includeHistory {
		limit := historyLimit
		if limit <= 0 {
			limit = s.cfg.ShortTermMaxMessages
		}
		recent, err = s.messages.Recent(ctx, userID, limit)
		if err != nil {
			return nil, err
		}
	}

	session, err := s.sessions.ActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &models.UserMemoryContext{
		User:           user,
		Profile:        profile,
		Facts:          facts,
		RecentMessages: recent,
		CurrentSession: session,
	}, nil
}

// UpsertUser registers the user or refreshes their identity fields.
func (s *Service) UpsertUser(ctx context.Context, user *models.User) (*models.User, error) {
	return s.users.Upsert(ctx, user)
}

// GetOrCreateSession returns the user's active session, replacing one that
// has been idle past the configured short-term timeout.
func (s *Service) GetOrCreateSession(ctx context.Context, userID int64) (*models.ConversationSession, error) {
	return s.sessions.GetOrCreate(ctx, userID, s.cfg.SessionTimeout())
}

// EndSession closes the user's active session, if any.
func (s *Service) EndSession(ctx context.Context, userID int64) error {
	session, err := s.sessions.ActiveByUser(ctx, userID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	return s.sessions.Close(ctx, session.ID)
}

// AddMessage persists one turn fragment. When the message carries no session
// id, the user's active session is resolved (or created) first.
func (s *Service) AddMessage(ctx context.Context, message *models.ConversationMessage) (*models.ConversationMessage, error) {
	if message.SessionID == "" {
		session, err := s.GetOrCreateSession(ctx, message.UserID)
		if err != nil {
			return nil, err
		}
		message.SessionID = session.ID
	}
	return s.messages.Insert(ctx, message)
}

// Stats aggregates row counts for the status surface.
type Stats struct {
	Users          int64 `json:"users"`
	Facts          int64 `json:"facts"`
	Messages       int64 `json:"messages"`
	Sessions       int64 `json:"sessions"`
	ActiveSessions int64 `json:"active_sessions"`
}

// Stats returns row counts across the memory tables.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var (
		stats Stats
		err   error
	)
	if stats.Users, err = s.users.Count(ctx); err != nil {
		return nil, err
	}
	if stats.Facts, err = s.facts.Count(ctx); err != nil {
		return nil, err
	}
	if stats.Messages, err = s.messages.Count(ctx); err != nil {
		return nil, err
	}
	if stats.Sessions, err = s.sessions.Count(ctx); err != nil {
		return nil, err
	}
	if stats.ActiveSessions, err = s.sessions.CountActive(ctx); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CleanupOldMessages deletes messages older than the configured retention.
func (s *Service) CleanupOldMessages(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.CleanupDays)
	return s.messages.DeleteOlderThan(ctx, cutoff)
}

// CleanupExpiredFacts deletes facts whose expiry has passed.
func (s *Service) CleanupExpiredFacts(ctx context.Context) (int64, error) {
	return s.facts.DeleteExpired(ctx)
}

// CloseStaleSessions ends sessions idle past the short-term timeout.
func (s *Service) CloseStaleSessions(ctx context.Context) (int64, error) {
	timeout := s.cfg.SessionTimeout()
	if timeout <= 0 {
		return 0, nil
	}
	return s.sessions.CloseStale(ctx, time.Now().Add(-timeout))
}

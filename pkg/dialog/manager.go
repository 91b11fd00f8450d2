package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/finnetrolle/nergal-sub000/pkg/agent"
	"github.com/finnetrolle/nergal-sub000/pkg/config"
	"github.com/finnetrolle/nergal-sub000/pkg/memory"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
	"github.com/finnetrolle/nergal-sub000/pkg/richtext"
)

// ErrNotAllowed rejects a turn from a user outside the allow list.
var ErrNotAllowed = errors.New("user is not allowed")

// extractionTimeout bounds the background fact-extraction pass that runs
// after the reply is sent.
const extractionTimeout = 60 * time.Second

// TurnRequest carries one incoming user message plus whatever identity
// fields the transport knows about the sender.
type TurnRequest struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	Language  string
	Message   string
}

// TurnResult is the outcome of one processed turn. HTMLChunks carries the
// response rendered as Telegram-flavored HTML and pre-split to the message
// limit, ready for a transport to send verbatim.
type TurnResult struct {
	Response         string           `json:"response"`
	HTMLChunks       []string         `json:"html_chunks,omitempty"`
	AgentType        models.AgentType `json:"agent_type"`
	Confidence       float64          `json:"confidence"`
	SessionID        string           `json:"session_id,omitempty"`
	ProcessingTimeMS int64            `json:"processing_time_ms"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

// Deps bundles the manager's collaborators. Planner, Executor, Memory and
// Extraction may be nil; the corresponding pipeline stages are skipped.
type Deps struct {
	Registry   *agent.Registry
	Planner    *agent.Dispatcher
	Executor   *agent.Executor
	Memory     *memory.Service
	Extraction *memory.ExtractionService
}

// memoryStore is the slice of the memory service the turn pipeline uses.
type memoryStore interface {
	GetUser(ctx context.Context, telegramID int64) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) (*models.User, error)
	GetOrCreateSession(ctx context.Context, userID int64) (*models.ConversationSession, error)
	GetMemoryContext(ctx context.Context, userID int64, includeHistory bool, historyLimit int) (*models.UserMemoryContext, error)
	AddMessage(ctx context.Context, message *models.ConversationMessage) (*models.ConversationMessage, error)
	EndSession(ctx context.Context, userID int64) error
}

// factExtractor is the slice of the extraction service the manager fires.
type factExtractor interface {
	ExtractAndStore(ctx context.Context, userID int64, userMessage string, history []models.Message) (*models.ExtractionResult, error)
}

// Manager is the per-turn entry point: it loads memory, routes the message
// through the planner and executor (or a single agent), persists both sides
// of the exchange and fires fact extraction. Turns for the same user are
// serialized; turns for different users run concurrently.
type Manager struct {
	auth       config.AuthConfig
	registry   *agent.Registry
	planner    *agent.Dispatcher
	executor   *agent.Executor
	memory     memoryStore
	extraction factExtractor
	contexts   *contextStore

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	background sync.WaitGroup
	logger     *slog.Logger
}

// NewManager wires the turn pipeline.
func NewManager(auth config.AuthConfig, mem config.MemoryConfig, deps Deps) *Manager {
	if deps.Registry == nil {
		panic("NewManager: registry must not be nil")
	}
	m := &Manager{
		auth:     auth,
		registry: deps.Registry,
		planner:  deps.Planner,
		executor: deps.Executor,
		contexts: newContextStore(mem.MaxDialogContexts, mem.ShortTermMaxMessages),
		locks:    make(map[int64]*sync.Mutex),
		logger:   slog.Default(),
	}
	// Nil checks happen on the concrete types so a nil service never turns
	// into a non-nil interface.
	if deps.Memory != nil {
		m.memory = deps.Memory
	}
	if deps.Extraction != nil {
		m.extraction = deps.Extraction
	}
	return m
}

// turnOutcome is what the routing stage hands back to the pipeline.
type turnOutcome struct {
	response   string
	agentType  models.AgentType
	confidence float64
	tokens     int
	metadata   map[string]any
}

// ProcessTurn runs the whole pipeline for one user message. The only error
// paths are an empty message, a rejected user, and cancellation of ctx;
// every internal failure resolves to an apology response instead.
func (m *Manager) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("empty message from user %d", req.UserID)
	}
	if !m.admitted(ctx, req.UserID) {
		return nil, ErrNotAllowed
	}

	unlock := m.lockUser(req.UserID)
	defer unlock()

	start := time.Now()
	dc := m.contexts.getOrCreate(req.UserID)

	var snapshot *models.UserMemoryContext
	if m.memory != nil {
		snapshot = m.prepareMemory(ctx, req, dc)
	}

	turnCtx := buildTurnContext(dc, snapshot)
	history := dc.History()
	dc.Append(models.UserMessage(req.Message))

	outcome, err := m.respond(ctx, req.Message, history, turnCtx)
	if err != nil {
		// Cancelled turn: nothing is persisted for the assistant side.
		return nil, err
	}

	dc.Append(models.AssistantMessage(outcome.response))
	dc.CurrentAgent = outcome.agentType

	processingMS := time.Since(start).Milliseconds()
	if m.memory != nil {
		m.storeAssistantMessage(ctx, req.UserID, dc.SessionID, outcome, processingMS)
		m.fireExtraction(req.UserID, req.Message, history)
	}

	return &TurnResult{
		Response:         outcome.response,
		HTMLChunks:       richtext.SplitMessage(richtext.ToTelegramHTML(outcome.response), richtext.TelegramMessageLimit),
		AgentType:        outcome.agentType,
		Confidence:       outcome.confidence,
		SessionID:        dc.SessionID,
		ProcessingTimeMS: processingMS,
		Metadata:         outcome.metadata,
	}, nil
}

// Reset drops the user's in-memory context and closes their active session.
func (m *Manager) Reset(ctx context.Context, userID int64) error {
	unlock := m.lockUser(userID)
	defer unlock()

	m.contexts.drop(userID)
	if m.memory != nil {
		if err := m.memory.EndSession(ctx, userID); err != nil {
			return fmt.Errorf("end session for user %d: %w", userID, err)
		}
	}
	return nil
}

// ContextCount reports how many dialog contexts are resident in memory.
func (m *Manager) ContextCount() int {
	return m.contexts.len()
}

// Close waits for background extraction work to drain.
func (m *Manager) Close() {
	m.background.Wait()
}

// admitted implements the turn admission predicate. With auth disabled every
// user passes. With auth enabled, admins always pass and everyone else needs
// an existing row with is_allowed set; lookups fail closed.
func (m *Manager) admitted(ctx context.Context, userID int64) bool {
	if !m.auth.Enabled {
		return true
	}
	if m.auth.IsAdmin(userID) {
		return true
	}
	if m.memory == nil {
		return false
	}
	user, err := m.memory.GetUser(ctx, userID)
	if err != nil {
		m.logger.Warn("Admission check failed", "user_id", userID, "error", err)
		return false
	}
	return user != nil && user.IsAllowed
}

// prepareMemory runs the persistence half of turn setup: upsert the user,
// resolve the session, snapshot memory, store the incoming message. Every
// failure is logged and absorbed; the turn continues without the missing
// piece.
func (m *Manager) prepareMemory(ctx context.Context, req TurnRequest, dc *DialogContext) *models.UserMemoryContext {
	_, err := m.memory.UpsertUser(ctx, &models.User{
		TelegramID: req.UserID,
		Username:   req.Username,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Language:   req.Language,
		IsAllowed:  true,
	})
	if err != nil {
		m.logger.Warn("User upsert failed", "user_id", req.UserID, "error", err)
	}

	session, err := m.memory.GetOrCreateSession(ctx, req.UserID)
	if err != nil {
		m.logger.Warn("Session resolution failed", "user_id", req.UserID, "error", err)
	} else {
		dc.SessionID = session.ID
	}

	snapshot, err := m.memory.GetMemoryContext(ctx, req.UserID, true, 0)
	if err != nil {
		m.logger.Warn("Memory snapshot failed", "user_id", req.UserID, "error", err)
		snapshot = nil
	}

	_, err = m.memory.AddMessage(ctx, &models.ConversationMessage{
		UserID:    req.UserID,
		SessionID: dc.SessionID,
		Role:      models.RoleUser,
		Content:   req.Message,
	})
	if err != nil {
		m.logger.Warn("User message store failed", "user_id", req.UserID, "error", err)
	}

	return snapshot
}

// respond routes the message through the planner and executor when planning
// is enabled, or through confidence-based single-agent routing otherwise.
// The returned error is non-nil only on cancellation.
func (m *Manager) respond(ctx context.Context, message string, history []models.Message, turnCtx map[string]any) (*turnOutcome, error) {
	if m.planner != nil && m.executor != nil {
		plan := m.planner.Plan(ctx, message, turnCtx)
		result, err := m.executor.Execute(ctx, plan, message, history, turnCtx)
		if err != nil {
			return nil, err
		}

		metadata := map[string]any{
			"plan_steps":   len(result.Steps),
			"plan_success": result.Success,
		}
		if result.Error != "" {
			metadata["plan_error"] = result.Error
		}
		if sources, ok := result.Context[models.MetaSources]; ok {
			metadata["sources"] = sources
		}
		return &turnOutcome{
			response:   result.FinalResponse,
			agentType:  result.FinalAgent,
			confidence: finalConfidence(result),
			tokens:     result.TokensUsed,
			metadata:   metadata,
		}, nil
	}

	selected := m.registry.DetermineAgent(message, turnCtx)
	if selected == nil {
		m.logger.Error("No agents registered, returning apology")
		return apologyOutcome(), nil
	}

	result, err := selected.Process(ctx, message, turnCtx, history)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		m.logger.Warn("Agent processing failed",
			"agent", selected.Type(), "error", err)
		return apologyOutcome(), nil
	}

	return &turnOutcome{
		response:   result.Response,
		agentType:  result.AgentType,
		confidence: result.Confidence,
		tokens:     result.TokensUsed,
		metadata:   result.Metadata,
	}, nil
}

// storeAssistantMessage persists the reply with its routing attribution.
func (m *Manager) storeAssistantMessage(ctx context.Context, userID int64, sessionID string, outcome *turnOutcome, processingMS int64) {
	tokens := outcome.tokens
	processing := int(processingMS)
	_, err := m.memory.AddMessage(ctx, &models.ConversationMessage{
		UserID:           userID,
		SessionID:        sessionID,
		Role:             models.RoleAssistant,
		Content:          outcome.response,
		AgentType:        string(outcome.agentType),
		TokensUsed:       &tokens,
		ProcessingTimeMS: &processing,
	})
	if err != nil {
		m.logger.Warn("Assistant message store failed", "user_id", userID, "error", err)
	}
}

// fireExtraction kicks off the background fact-extraction pass. The turn's
// reply has already been produced; extraction runs on its own deadline.
func (m *Manager) fireExtraction(userID int64, message string, history []models.Message) {
	if m.extraction == nil {
		return
	}
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), extractionTimeout)
		defer cancel()
		if _, err := m.extraction.ExtractAndStore(ctx, userID, message, history); err != nil {
			m.logger.Warn("Fact extraction failed", "user_id", userID, "error", err)
		}
	}()
}

// lockUser serializes turns per user. The returned func releases the lock.
func (m *Manager) lockUser(userID int64) func() {
	m.locksMu.Lock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	m.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// buildTurnContext merges the dialog context's metadata with the memory
// snapshot keys agents read.
func buildTurnContext(dc *DialogContext, snapshot *models.UserMemoryContext) map[string]any {
	turnCtx := make(map[string]any, len(dc.Metadata)+3)
	for k, v := range dc.Metadata {
		turnCtx[k] = v
	}
	if snapshot != nil {
		turnCtx[models.ContextMemory] = snapshot
		if snapshot.Profile != nil {
			turnCtx[models.ContextUserProfile] = snapshot.Profile
		}
		if summary := snapshot.ProfileSummary(); summary != "" {
			turnCtx[models.ContextProfileSummary] = summary
		}
	}
	return turnCtx
}

// finalConfidence pulls the confidence of the highest-indexed completed step.
func finalConfidence(result *models.PlanResult) float64 {
	for i := len(result.Steps) - 1; i >= 0; i-- {
		step := result.Steps[i]
		if step.Status == models.StepStatusCompleted && step.Result != nil {
			return step.Result.Confidence
		}
	}
	return 0
}

func apologyOutcome() *turnOutcome {
	return &turnOutcome{
		response:  agent.ApologyResponse,
		agentType: models.AgentTypeDefault,
		metadata:  map[string]any{},
	}
}

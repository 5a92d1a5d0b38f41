package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joebot/toolbot/internal/events"
	"github.com/joebot/toolbot/internal/llm"
	"github.com/joebot/toolbot/internal/session"
	"github.com/joebot/toolbot/internal/vector"
	"github.com/joebot/toolbot/internal/textutil"
)

// DefaultTopK is the number of past messages retrieved per request.
const DefaultTopK = 5

// ChatResponse is the answer to one chat request.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Turns     int    `json:"-"`
	ToolCalls int    `json:"-"`
}

// OrchestratorConfig wires the collaborators of one chat request.
// Embedder, Vectors and Events are optional.
type OrchestratorConfig struct {
	Loop     *Loop
	Context  *ContextBuilder
	Sessions session.Store
	Vectors  vector.Store
	Embedder llm.Embedder
	Events   events.Publisher
	// TopK defaults to DefaultTopK.
	TopK int
	// HistoryLimit caps the session messages sent to the model. 0 sends all.
	HistoryLimit int
}

// Orchestrator handles a chat request end to end: session, retrieval,
// tool-calling loop, persistence and event publication.
type Orchestrator struct {
	loop         *Loop
	context      *ContextBuilder
	sessions     session.Store
	vectors      vector.Store
	embedder     llm.Embedder
	events       events.Publisher
	topK         int
	historyLimit int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Context == nil {
		cfg.Context = NewContextBuilder("", "")
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Orchestrator{
		loop:         cfg.Loop,
		context:      cfg.Context,
		sessions:     cfg.Sessions,
		vectors:      cfg.Vectors,
		embedder:     cfg.Embedder,
		events:       cfg.Events,
		topK:         cfg.TopK,
		historyLimit: cfg.HistoryLimit,
	}
}

// ProcessMessage answers message within sessionID. An empty or malformed
// session id starts a new session. Embedding and retrieval failures only
// cost the extra context; loop and persistence failures are returned.
func (o *Orchestrator) ProcessMessage(ctx context.Context, message, sessionID string) (*ChatResponse, error) {
	sessionID = session.NormalizeID(sessionID)
	slog.Info("Processing message", "session", sessionID, "preview", textutil.Truncate(message, 80))

	sess, err := o.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	embedding, related := o.retrieve(ctx, message)

	conv := o.context.BuildMessages(sess.History(o.historyLimit), related, message)
	res, err := o.loop.Run(ctx, conv)
	if err != nil {
		return nil, err
	}

	slog.Info("Response", "session", sessionID, "turns", res.Turns, "tools", res.ToolCalls, "preview", textutil.Truncate(res.Answer, 120))

	sess.AddMessage(string(llm.RoleUser), message)
	sess.AddMessage(string(llm.RoleAssistant), res.Answer)
	if err := o.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	if embedding != nil && o.vectors != nil {
		if err := o.vectors.Add(ctx, sessionID, message, embedding); err != nil {
			slog.Warn("storing embedding failed", "session", sessionID, "err", err)
		}
	}

	ev := events.ConversationEvent{
		SessionID:   sessionID,
		UserMessage: message,
		Answer:      res.Answer,
		Provider:    o.loop.provider.Name(),
		Turns:       res.Turns,
		ToolCalls:   res.ToolCalls,
		At:          time.Now().UTC(),
	}
	if err := o.events.Publish(ctx, ev); err != nil {
		slog.Warn("publishing conversation event failed", "session", sessionID, "err", err)
	}

	return &ChatResponse{
		Response:  res.Answer,
		SessionID: sessionID,
		Turns:     res.Turns,
		ToolCalls: res.ToolCalls,
	}, nil
}

// retrieve embeds message and returns similar past messages.
func (o *Orchestrator) retrieve(ctx context.Context, message string) ([]float32, []string) {
	if o.embedder == nil {
		return nil, nil
	}
	embedding, err := o.embedder.Embed(ctx, message)
	if err != nil {
		slog.Warn("embedding failed, continuing without retrieval", "err", err)
		return nil, nil
	}
	if o.vectors == nil {
		return embedding, nil
	}
	matches, err := o.vectors.Search(ctx, embedding, o.topK)
	if err != nil {
		slog.Warn("retrieval failed, continuing without context", "err", err)
		return embedding, nil
	}
	return embedding, vector.Texts(matches)
}

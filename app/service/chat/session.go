package chat

import (
	"context"
	"critiquebar/app/config"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
)

const (
	eventBufferSize        = 64
	defaultSettingsTimeout = 10 * time.Second
)

type Deps struct {
	Transport     Transport
	Settings      SettingsProvider
	Conversations ConversationRegistry
	Identity      IdentityProvider
}

type Option func(*Session)

// WithDefaults sets the settings used when the settings provider fails.
func WithDefaults(settings Settings) Option {
	return func(s *Session) {
		s.defaults = settings.merge(DefaultSettings())
	}
}

func WithHistorySize(size int) Option {
	return func(s *Session) {
		s.historySize = size
	}
}

func WithImageQuality(quality int) Option {
	return func(s *Session) {
		s.imageQuality = quality
	}
}

func WithSettingsTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		s.settingsTimeout = timeout
	}
}

// Session owns the transcript and conversation identity and runs at most one
// turn at a time. Every turn is stamped with the epoch it started in; Reset
// bumps the epoch so anything a cancelled turn still produces is dropped.
type Session struct {
	deps            Deps
	defaults        Settings
	historySize     int
	imageQuality    int
	settingsTimeout time.Duration

	mu             sync.Mutex
	state          State
	epoch          uint64
	turns          []Turn
	nextPosition   int
	live           int
	conversationID string
	// creating is closed once the conversation requested by Reset is known
	creating chan struct{}
	cancel   context.CancelFunc
}

func NewSession(deps Deps, opts ...Option) *Session {
	s := &Session{
		deps:            deps,
		defaults:        DefaultSettings(),
		historySize:     messageHistorySize,
		imageQuality:    DefaultJPEGQuality,
		settingsTimeout: defaultSettingsTimeout,
		live:            -1,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// New builds the session from the collaborators registered in di.
func New(di *do.Injector) (*Session, error) {
	cfg := do.MustInvoke[*config.Config](di)

	deps := Deps{
		Transport:     do.MustInvoke[Transport](di),
		Settings:      do.MustInvoke[SettingsProvider](di),
		Conversations: do.MustInvoke[ConversationRegistry](di),
		Identity:      do.MustInvoke[IdentityProvider](di),
	}

	return NewSession(deps,
		WithDefaults(Settings{
			SystemPrompt: cfg.Defaults.SystemPrompt,
			Provider:     cfg.Defaults.Provider,
			Model:        cfg.Defaults.Model,
		}),
		WithImageQuality(cfg.Image.JPEGQuality),
	), nil
}

type turnJob struct {
	epoch            uint64
	requestID        string
	text             string
	imageURL         string
	imageErr         error
	tags             []string
	history          []Message
	needConversation bool
	conversationID   string
	creating         <-chan struct{}
	events           chan Event
}

// Send starts a turn. The user turn is appended before Send returns; the
// reply arrives on the returned channel as deltas followed by one done or
// error event. Send fails with ErrBusy while another turn is in flight.
func (s *Session) Send(ctx context.Context, req SendRequest) (<-chan Event, error) {
	job := &turnJob{
		requestID: uuid.NewString(),
		text:      req.Text,
		tags:      req.Tags,
		events:    make(chan Event, eventBufferSize),
	}

	if req.Image != nil {
		job.imageURL, job.imageErr = EncodeImage(req.Image, s.imageQuality)
	}

	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()

		return nil, oops.
			In("chat").
			Code(errorCodes[ErrBusy]).
			With("state", state.String()).
			Errorf("%w: session is %s", ErrBusy, state)
	}

	s.state = StateSending
	job.epoch = s.epoch
	job.history = historyWindow(s.turns, s.historySize)
	job.needConversation = s.conversationID == "" && len(s.turns) == 0
	job.conversationID = s.conversationID
	if job.needConversation {
		job.creating = s.creating
	}
	s.appendLocked(Turn{Role: RoleUser, Text: req.Text, Image: job.imageURL})

	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(turnCtx, cancel, job)

	return job.events, nil
}

// Reset clears the transcript and conversation identity, abandons the turn in
// flight and asks the registry for a fresh conversation.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.turns = nil
	s.live = -1
	s.conversationID = ""
	s.state = StateIdle

	userID := s.currentUser()
	var creating chan struct{}
	if userID != "" && s.deps.Conversations != nil {
		creating = make(chan struct{})
	}
	s.creating = creating
	s.mu.Unlock()

	slog.Info("Session reset", "epoch", epoch)

	if creating == nil {
		return
	}
	defer close(creating)

	id, err := s.deps.Conversations.CreateConversation(ctx, userID)
	if err != nil {
		slog.Warn("Failed to create conversation after reset", "error", err)
		id = ""
	}

	s.storeConversation(epoch, id, creating)
}

// WatchIdentity resets the session whenever the user identifier changes.
func (s *Session) WatchIdentity(ctx context.Context, changes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}

			slog.Info("Identity changed, resetting session")
			s.Reset(ctx)
		}
	}
}

func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Turn, len(s.turns))
	copy(result, s.turns)

	return result
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conversationID
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, job *turnJob) {
	defer close(job.events)
	defer cancel()

	if job.imageErr != nil {
		s.fail(ctx, job, job.imageErr)
		return
	}

	userID := s.currentUser()
	if userID == "" {
		s.fail(ctx, job, NewError(ErrNotAuthenticated, "user identifier is empty"))
		return
	}

	settings, conversationID := s.prepare(ctx, job, userID)

	payload := &Payload{
		RequestID:    job.requestID,
		UserID:       userID,
		Provider:     settings.Provider,
		Model:        settings.Model,
		SystemPrompt: settings.SystemPrompt,
		Message:      Content{Text: job.text, ImageURL: job.imageURL},
		History:      job.history,
		Tags:         job.tags,
	}
	if conversationID != "" {
		payload.ConversationID = &conversationID
	}

	slog.Debug("Dispatching turn",
		"request_id", job.requestID,
		"conversation_id", conversationID,
		"history", len(job.history),
		"has_image", job.imageURL != "",
	)

	terminated := false
	for ev := range s.deps.Transport.Stream(ctx, payload) {
		if terminated {
			continue
		}

		switch ev.Type {
		case EventDelta:
			if !s.applyDelta(job.epoch, ev.Text) {
				terminated = true
				s.discard(job)
				continue
			}
			Emit(ctx, job.events, ev)
		case EventDone:
			terminated = true
			s.complete(ctx, job, ev.Text)
		case EventError:
			terminated = true
			s.fail(ctx, job, ev.Err)
		}
	}

	if !terminated {
		if ctx.Err() != nil {
			s.fail(ctx, job, WrapError(ErrCancelled, ctx.Err()))
		} else {
			s.fail(ctx, job, NewError(ErrProtocol, "stream ended without a terminal event"))
		}
	}
}

// prepare loads settings and, for a fresh session, mints a conversation.
// Neither failure stops the turn.
func (s *Session) prepare(ctx context.Context, job *turnJob, userID string) (Settings, string) {
	settings := s.defaults
	conversationID := job.conversationID

	g, gctx := errgroup.WithContext(ctx)

	if s.deps.Settings != nil {
		g.Go(func() error {
			loadCtx, cancel := context.WithTimeout(gctx, s.settingsTimeout)
			defer cancel()

			loaded, err := s.deps.Settings.LoadSettings(loadCtx, userID)
			if err != nil || loaded == nil {
				slog.Warn("Failed to load settings, using defaults", "error", err)
				return nil
			}

			settings = loaded.merge(s.defaults)
			return nil
		})
	}

	if job.needConversation && s.deps.Conversations != nil {
		g.Go(func() error {
			// a reset is already minting the conversation for this epoch
			if job.creating != nil {
				select {
				case <-job.creating:
				case <-gctx.Done():
					return nil
				}

				if id := s.conversationFor(job.epoch); id != "" {
					conversationID = id
					return nil
				}
			}

			id, err := s.deps.Conversations.CreateConversation(gctx, userID)
			if err != nil {
				slog.Warn("Failed to create conversation, continuing without one", "error", err)
				return nil
			}

			conversationID = s.storeConversation(job.epoch, id, nil)
			return nil
		})
	}

	_ = g.Wait()

	return settings, conversationID
}

// storeConversation records id unless the epoch moved on or a conversation is
// already set, and returns the id the turn should use. A non-nil creating
// marker is cleared if it is still the current one.
func (s *Session) storeConversation(epoch uint64, id string, creating chan struct{}) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if creating != nil && s.creating == creating {
		s.creating = nil
	}

	if s.epoch != epoch {
		return id
	}

	if s.conversationID == "" {
		s.conversationID = id
	}

	return s.conversationID
}

func (s *Session) conversationFor(epoch uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return ""
	}

	return s.conversationID
}

func (s *Session) applyDelta(epoch uint64, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return false
	}

	if s.live < 0 {
		s.live = s.appendLocked(Turn{Role: RoleAssistant})
		s.state = StateStreaming
	}

	s.turns[s.live].Text += text

	return true
}

func (s *Session) complete(ctx context.Context, job *turnJob, doneText string) {
	s.mu.Lock()
	if s.epoch != job.epoch {
		s.mu.Unlock()
		s.discard(job)
		return
	}

	if s.live < 0 {
		s.live = s.appendLocked(Turn{Role: RoleAssistant, Text: doneText})
	}

	turn := s.turns[s.live]
	s.state = StateCompleted
	s.finishLocked()
	s.mu.Unlock()

	slog.Info("Turn completed",
		"request_id", job.requestID,
		"position", turn.Position,
		"length", len(turn.Text),
	)

	deliver(ctx, job.events, Event{Type: EventDone, Text: turn.Text})
}

// fail records err as an assistant turn, replacing any partial reply.
func (s *Session) fail(ctx context.Context, job *turnJob, err error) {
	s.mu.Lock()
	if s.epoch != job.epoch {
		s.mu.Unlock()
		s.discard(job)
		return
	}

	text := Describe(err)
	if s.live >= 0 {
		s.turns[s.live].Text = text
		s.turns[s.live].Failed = true
	} else {
		s.appendLocked(Turn{Role: RoleAssistant, Text: text, Failed: true})
	}

	s.state = StateFailed
	s.finishLocked()
	s.mu.Unlock()

	slog.Error("Turn failed",
		"request_id", job.requestID,
		"error", err,
	)

	deliver(ctx, job.events, Event{Type: EventError, Err: err})
}

// discard tells the caller that its turn was abandoned by a reset.
func (s *Session) discard(job *turnJob) {
	slog.Debug("Discarding events of a stale turn", "request_id", job.requestID, "epoch", job.epoch)

	select {
	case job.events <- Event{Type: EventError, Err: NewError(ErrCancelled, "session was reset")}:
	default:
	}
}

func (s *Session) finishLocked() {
	s.live = -1
	s.cancel = nil
	s.state = StateIdle
}

func (s *Session) appendLocked(turn Turn) int {
	turn.Position = s.nextPosition
	s.nextPosition++
	s.turns = append(s.turns, turn)

	return len(s.turns) - 1
}

func (s *Session) currentUser() string {
	if s.deps.Identity == nil {
		return ""
	}

	return s.deps.Identity.Current()
}

// deliver emits ev, falling back to a non-blocking send once ctx is done.
func deliver(ctx context.Context, out chan<- Event, ev Event) {
	if Emit(ctx, out, ev) {
		return
	}

	select {
	case out <- ev:
	default:
	}
}

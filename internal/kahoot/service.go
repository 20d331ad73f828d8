package kahoot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/live-quiz/internal/config"
	"github.com/gokatarajesh/live-quiz/internal/db/queries"
	"github.com/gokatarajesh/live-quiz/internal/kahoot/scoring"
	"github.com/gokatarajesh/live-quiz/internal/lock"
	"github.com/gokatarajesh/live-quiz/internal/logging"
	"github.com/gokatarajesh/live-quiz/internal/metrics"
	"github.com/gokatarajesh/live-quiz/internal/quiz"
	"github.com/gokatarajesh/live-quiz/internal/results"
	ws "github.com/gokatarajesh/live-quiz/pkg/http/ws"
)

// Broadcaster publishes session events to every instance holding sockets
// for the PIN.
type Broadcaster interface {
	ToStudents(ctx context.Context, pin string, msg ws.Message)
	ToActiveStudents(ctx context.Context, pin string, recipients []string, msg ws.Message)
	ToTeacher(ctx context.Context, pin string, msg ws.Message)
	ToEach(ctx context.Context, pin string, perStudent map[string]ws.Message)
	ForceCloseStudents(ctx context.Context, pin string)
}

type sessionRepo interface {
	Create(ctx context.Context, params queries.CreateQuizSessionParams) (queries.QuizSession, error)
	Get(ctx context.Context, sessionID uuid.UUID) (queries.QuizSession, error)
	MarkEnded(ctx context.Context, sessionID uuid.UUID) error
}

type resultSaver interface {
	Save(ctx context.Context, req results.SaveRequest) (int, error)
	Detailed(ctx context.Context, sessionID uuid.UUID) ([]results.Record, error)
}

// Options tunes session timing and lock lifetimes.
type Options struct {
	SessionTTL            time.Duration
	LeadInDelay           time.Duration
	TimeWarningSeconds    int
	DefaultCharacterCount int
	PinAttempts           int
	ResultSaveTimeout     time.Duration
	Locks                 config.Locks
}

// OptionsFromConfig maps the app config onto Options.
func OptionsFromConfig(cfg *config.App) Options {
	return Options{
		SessionTTL:            cfg.Session.TTL,
		LeadInDelay:           cfg.Session.LeadInDelay,
		TimeWarningSeconds:    cfg.Session.TimeWarningSeconds,
		DefaultCharacterCount: cfg.Session.DefaultCharacterCount,
		PinAttempts:           cfg.Session.PinAttempts,
		ResultSaveTimeout:     cfg.Session.ResultSaveTimeout,
		Locks:                 cfg.Locks,
	}
}

// Service is the quiz flow controller. It holds no session state in memory
// apart from the timers it scheduled; every decision reads the shared store.
type Service struct {
	state    *StateManager
	locks    *lock.Manager
	bus      Broadcaster
	scorer   *scoring.Engine
	quizzes  quiz.Loader
	sessions sessionRepo
	results  resultSaver
	timers   *Timers
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
	logger   zerolog.Logger
}

// Deps are the collaborators of a Service.
type Deps struct {
	State    *StateManager
	Locks    *lock.Manager
	Bus      Broadcaster
	Scorer   *scoring.Engine
	Quizzes  quiz.Loader
	Sessions sessionRepo
	Results  resultSaver
	Metrics  *metrics.Metrics
}

// NewService creates the flow controller.
func NewService(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if deps.Scorer == nil {
		deps.Scorer = scoring.NewEngine(scoring.DefaultScoringConfig())
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	if opts.DefaultCharacterCount <= 0 {
		opts.DefaultCharacterCount = 30
	}
	if opts.PinAttempts <= 0 {
		opts.PinAttempts = 20
	}
	if opts.ResultSaveTimeout <= 0 {
		opts.ResultSaveTimeout = 10 * time.Second
	}
	opts.Locks = withLockDefaults(opts.Locks)
	return &Service{
		state:    deps.State,
		locks:    deps.Locks,
		bus:      deps.Bus,
		scorer:   deps.Scorer,
		quizzes:  deps.Quizzes,
		sessions: deps.Sessions,
		results:  deps.Results,
		timers:   NewTimers(),
		metrics:  deps.Metrics,
		opts:     opts,
		now:      time.Now,
		logger:   logger.With().Str("component", "kahoot").Logger(),
	}
}

func withLockDefaults(l config.Locks) config.Locks {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&l.CharacterTTL, 5*time.Second)
	def(&l.SubmitTTL, 3*time.Second)
	def(&l.StartQuizTTL, 5*time.Second)
	def(&l.NextQuestionTTL, 5*time.Second)
	def(&l.TimeUpTTL, 5*time.Second)
	def(&l.EndQuizTTL, 10*time.Second)
	return l
}

// Shutdown cancels every pending timer.
func (s *Service) Shutdown() {
	s.timers.Stop()
}

// Client is one authenticated socket as seen by the flow controller.
type Client struct {
	Role      string
	UserID    string
	Name      string
	PIN       string
	SessionID string // set on teacher connect
	ConnID    string // teacher socket id, set on connect when empty
	Peer      ws.Peer
}

func (c *Client) reply(msgType string, payload any) error {
	msg, err := ws.NewMessage(msgType, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	if err := c.Peer.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// TeamSpec is a team requested at session creation.
type TeamSpec struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// CreateSessionRequest starts a new live session for a quiz.
type CreateSessionRequest struct {
	TeacherID      string
	QuizID         string
	IsTeamMode     bool
	Teams          []TeamSpec
	CharacterCount int
}

// CreateSessionResult identifies the new session.
type CreateSessionResult struct {
	PIN            string `json:"pin"`
	SessionID      string `json:"sessionId"`
	TotalQuestions int    `json:"totalQuestions"`
}

// CreateSession snapshots the quiz, allocates a PIN and persists the
// session-definition row.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error) {
	qz, err := s.quizzes.LoadQuiz(ctx, req.QuizID)
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	if len(qz.Questions) == 0 {
		return nil, ErrEmptyQuiz
	}

	count := req.CharacterCount
	if count <= 0 {
		count = s.opts.DefaultCharacterCount
	}
	characters := make([]int, count)
	for i := range characters {
		characters[i] = i
	}

	var teams []Team
	if req.IsTeamMode {
		for _, t := range req.Teams {
			teams = append(teams, Team{Name: t.Name, Members: t.Members})
		}
	}

	sessionID := uuid.New()
	sess := &Session{
		SessionID:           sessionID.String(),
		QuizID:              qz.ID,
		TeacherID:           req.TeacherID,
		IsTeamMode:          req.IsTeamMode,
		Teams:               teams,
		AvailableCharacters: characters,
		TotalQuestions:      len(qz.Questions),
		CurrentQuestionID:   qz.Questions[0].ID,
		CreatedAt:           s.now().UnixMilli(),
	}

	pin, err := s.allocatePIN(ctx, sess)
	if err != nil {
		return nil, err
	}
	logger := logging.ForSession(s.logger, pin)

	teamsJSON, err := json.Marshal(teams)
	if err != nil {
		return nil, fmt.Errorf("encode teams: %w", err)
	}
	questionsJSON, err := json.Marshal(qz.Questions)
	if err != nil {
		return nil, fmt.Errorf("encode questions: %w", err)
	}

	if _, err := s.sessions.Create(ctx, queries.CreateQuizSessionParams{
		ID:         pgUUID(sessionID),
		Pin:        pin,
		QuizID:     qz.ID,
		TeacherID:  req.TeacherID,
		IsTeamMode: req.IsTeamMode,
		Teams:      teamsJSON,
		Questions:  questionsJSON,
	}); err != nil {
		s.releasePIN(ctx, pin, logger)
		return nil, fmt.Errorf("create session row: %w", err)
	}

	if err := s.state.SaveQuestions(ctx, pin, qz.Questions); err != nil {
		s.releasePIN(ctx, pin, logger)
		return nil, fmt.Errorf("save questions: %w", err)
	}

	logger.Info().
		Str("session_id", sess.SessionID).
		Str("quiz_id", qz.ID).
		Int("questions", len(qz.Questions)).
		Bool("team_mode", req.IsTeamMode).
		Msg("session created")

	return &CreateSessionResult{PIN: pin, SessionID: sess.SessionID, TotalQuestions: len(qz.Questions)}, nil
}

func (s *Service) allocatePIN(ctx context.Context, sess *Session) (string, error) {
	for i := 0; i < s.opts.PinAttempts; i++ {
		sess.PIN = fmt.Sprintf("%06d", rand.Intn(1000000))
		ok, err := s.state.CreateSession(ctx, sess)
		if err != nil {
			return "", fmt.Errorf("claim pin: %w", err)
		}
		if ok {
			return sess.PIN, nil
		}
	}
	return "", ErrPINExhausted
}

func (s *Service) releasePIN(ctx context.Context, pin string, logger *zerolog.Logger) {
	if err := s.state.Teardown(context.WithoutCancel(ctx), pin); err != nil {
		logger.Warn().Err(err).Msg("release pin")
	}
}

// withLock runs fn while holding key. Contention past the retry budget is
// reported as ErrLockBusy.
func (s *Service) withLock(ctx context.Context, key, resource string, ttl time.Duration, fn func() error) error {
	lease, err := s.locks.Acquire(ctx, key, ttl)
	if errors.Is(err, lock.ErrNotAcquired) {
		s.metrics.LockContention.WithLabelValues(resource).Inc()
		return ErrLockBusy
	}
	if err != nil {
		return fmt.Errorf("acquire %s lock: %w", resource, err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("lock", key).Msg("release lock")
		}
	}()
	return fn()
}

// message encodes a payload. Encoding failures are logged.
func (s *Service) message(msgType string, payload any) (ws.Message, bool) {
	msg, err := ws.NewMessage(msgType, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", msgType).Msg("encode message")
		return ws.Message{}, false
	}
	return msg, true
}

func (s *Service) toStudents(ctx context.Context, pin, msgType string, payload any) {
	if msg, ok := s.message(msgType, payload); ok {
		s.bus.ToStudents(ctx, pin, msg)
	}
}

func (s *Service) toActive(ctx context.Context, pin string, recipients []string, msgType string, payload any) {
	if msg, ok := s.message(msgType, payload); ok {
		s.bus.ToActiveStudents(ctx, pin, recipients, msg)
	}
}

func (s *Service) toTeacher(ctx context.Context, pin, msgType string, payload any) {
	if msg, ok := s.message(msgType, payload); ok {
		s.bus.ToTeacher(ctx, pin, msg)
	}
}

// activeIDs lists the student ids that are connected_participating.
func activeIDs(participants []*Participant) []string {
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.Active() {
			out = append(out, p.StudentID)
		}
	}
	return out
}

func (s *Service) activeRecipients(ctx context.Context, pin string) ([]string, error) {
	participants, err := s.state.Participants(ctx, pin)
	if err != nil {
		return nil, err
	}
	return activeIDs(participants), nil
}

// characterData builds the available/taken view of the character pool.
func (s *Service) characterData(ctx context.Context, sess *Session) (ws.CharacterDataPayload, error) {
	taken, err := s.state.TakenCharacters(ctx, sess.PIN)
	if err != nil {
		return ws.CharacterDataPayload{}, err
	}
	claimed := make(map[int]struct{}, len(taken))
	for _, c := range taken {
		claimed[c] = struct{}{}
	}
	available := make([]int, 0, len(sess.AvailableCharacters))
	for _, c := range sess.AvailableCharacters {
		if _, ok := claimed[c]; !ok {
			available = append(available, c)
		}
	}
	return ws.CharacterDataPayload{Available: available, Taken: taken}, nil
}

// loadLive reads the session and question snapshot, rejecting ended sessions.
func (s *Service) loadLive(ctx context.Context, pin string) (*Session, []quiz.Question, error) {
	sess, err := s.state.GetSession(ctx, pin)
	if err != nil {
		return nil, nil, err
	}
	if sess.QuizEndedByTeacher {
		return nil, nil, ErrSessionEnded
	}
	questions, err := s.state.GetQuestions(ctx, pin)
	if err != nil {
		return nil, nil, err
	}
	return sess, questions, nil
}

// detached returns a context for work that must outlive the caller, such as
// timer callbacks and persistence after a socket closed.
func (s *Service) detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

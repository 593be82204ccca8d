// Package quiz runs quiz sessions: it picks a song's questions for a learner,
// grades answers, advances each question's card and saves the resulting
// progress record.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/songquiz/internal/domain"
	"github.com/conorfennell/songquiz/internal/fsrs"
	"github.com/conorfennell/songquiz/internal/selector"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrQuestionNotInSession = errors.New("question is not part of this session")
	ErrInvalidChoice        = errors.New("choice must be one of a, b, c or d")
	ErrNoQuestions          = errors.New("song has no questions")
)

// DefaultTTL is how long an idle session is kept before it is pruned.
const DefaultTTL = 2 * time.Hour

// QuestionStore loads a song's question bank in bank order.
type QuestionStore interface {
	GetQuestions(ctx context.Context, songID, locale string) ([]domain.Question, error)
}

// ProgressStore loads and saves progress records. GetLatestProgress returns
// nil when the learner has no record for the song.
type ProgressStore interface {
	GetLatestProgress(ctx context.Context, userID, songID string) (*domain.ProgressRecord, error)
	SaveProgress(ctx context.Context, record *domain.ProgressRecord) (string, error)
}

// Observer is told about session activity. Metrics hook in here.
type Observer interface {
	SessionStarted(songID string, questions int)
	QuestionAnswered(correct bool)
	SessionCompleted(correct, total int)
}

// Service holds the sessions in progress. It is safe for concurrent use.
type Service struct {
	questions QuestionStore
	progress  ProgressStore
	selector  *selector.Selector
	scheduler *fsrs.Scheduler
	observer  Observer

	ttl     time.Duration
	shuffle bool
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets how long an idle session survives. Zero or less keeps
// sessions until they are completed.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithShuffle randomizes the presentation order of a session's questions.
func WithShuffle(on bool) Option {
	return func(s *Service) { s.shuffle = on }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService wires a Service. A nil selector or scheduler gets the defaults.
func NewService(questions QuestionStore, progress ProgressStore, sel *selector.Selector, sched *fsrs.Scheduler, opts ...Option) (*Service, error) {
	if sel == nil {
		sel = selector.New()
	}
	if sched == nil {
		var err error
		if sched, err = fsrs.NewScheduler(nil, nil); err != nil {
			return nil, fmt.Errorf("failed to create default scheduler: %w", err)
		}
	}
	s := &Service{
		questions: questions,
		progress:  progress,
		selector:  sel,
		scheduler: sched,
		observer:  nopObserver{},
		ttl:       DefaultTTL,
		now:       time.Now,
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type session struct {
	id, userID, songID, locale string

	questions []domain.Question
	byUUID    map[string]domain.Question
	previous  *domain.ProgressRecord
	prior     map[string]fsrs.Card

	// answers are kept in answer order; cards holds the newest card per
	// uuid answered so far.
	answers []domain.QuestionResult
	cards   map[string]fsrs.Card

	startedAt time.Time
	touchedAt time.Time
}

// Session is the learner-facing view of a session. Questions never carry
// their correct option.
type Session struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	SongID    string            `json:"songId"`
	Locale    string            `json:"locale"`
	Questions []domain.Question `json:"questions"`
	StartedAt time.Time         `json:"startedAt"`
}

// AnswerResult reports the grading of one answer and the card it produced.
type AnswerResult struct {
	UUID          string    `json:"uuid"`
	Correct       bool      `json:"correct"`
	CorrectOption string    `json:"correctOption"`
	Card          fsrs.Card `json:"fsrs"`
}

// Start selects the questions for a new session from the song's bank and the
// learner's latest progress record.
func (s *Service) Start(ctx context.Context, userID, songID, locale string) (*Session, error) {
	if locale == "" {
		locale = domain.DefaultLocale
	}
	all, err := s.questions.GetQuestions(ctx, songID, locale)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions for song %s: %w", songID, err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNoQuestions, songID, locale)
	}
	previous, err := s.progress.GetLatestProgress(ctx, userID, songID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress for user %s: %w", userID, err)
	}

	now := s.now()
	picked := s.selector.Select(all, previous, now)
	if s.shuffle {
		rand.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	}

	sess := &session{
		id:        uuid.NewString(),
		userID:    userID,
		songID:    songID,
		locale:    locale,
		questions: picked,
		byUUID:    make(map[string]domain.Question, len(picked)),
		previous:  previous,
		prior:     previous.LatestCards(),
		cards:     make(map[string]fsrs.Card),
		startedAt: now,
		touchedAt: now,
	}
	for _, q := range picked {
		sess.byUUID[q.UUID] = q
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	slog.Info("Session started", "session", sess.id, "user", userID, "song", songID, "questions", len(picked))
	s.observer.SessionStarted(songID, len(picked))
	return sess.view(), nil
}

// Session returns the view of a session in progress.
func (s *Service) Session(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.lookupLocked(sessionID, s.now())
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.view(), nil
}

// Answer grades choice for a question of the session and advances its card.
// Answering the same question again advances the card the previous answer
// produced.
func (s *Service) Answer(ctx context.Context, sessionID, questionUUID, choice string) (*AnswerResult, error) {
	label := strings.ToLower(strings.TrimSpace(choice))
	if _, ok := (domain.Options{}).Get(label); !ok {
		return nil, ErrInvalidChoice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.lookupLocked(sessionID, now)
	if !ok {
		return nil, ErrSessionNotFound
	}
	q, ok := sess.byUUID[questionUUID]
	if !ok {
		return nil, ErrQuestionNotInSession
	}

	var prior *fsrs.Card
	if c, ok := sess.cards[q.UUID]; ok {
		prior = &c
	} else if c, ok := sess.prior[q.UUID]; ok {
		prior = &c
	}

	correct := q.IsCorrect(label)
	card := s.scheduler.Advance(prior, fsrs.Rate(correct), now)
	sess.cards[q.UUID] = card
	sess.answers = append(sess.answers, domain.QuestionResult{
		UUID:      q.UUID,
		Correct:   correct,
		Timestamp: domain.Millis(now),
		FSRS:      &card,
	})
	sess.touchedAt = now

	s.observer.QuestionAnswered(correct)
	return &AnswerResult{
		UUID:          q.UUID,
		Correct:       correct,
		CorrectOption: q.Correct,
		Card:          card,
	}, nil
}

// Complete ends the session and saves the learner's next progress record.
// The session stays open if saving fails.
func (s *Service) Complete(ctx context.Context, sessionID string) (*domain.ProgressRecord, error) {
	s.mu.Lock()
	sess, ok := s.lookupLocked(sessionID, s.now())
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	record := sess.record(s.now())
	if _, err := s.progress.SaveProgress(ctx, record); err != nil {
		s.mu.Lock()
		s.sessions[sessionID] = sess
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to save progress for session %s: %w", sessionID, err)
	}

	slog.Info("Session completed",
		"session", sessionID,
		"user", sess.userID,
		"song", sess.songID,
		"correct", record.TotalCorrect,
		"total", record.TotalQuestions,
	)
	s.observer.SessionCompleted(record.TotalCorrect, record.TotalQuestions)
	return record, nil
}

// Summary describes the state of a learner's cards for a song.
type Summary struct {
	Tracked            int     `json:"tracked"`
	Seen               int     `json:"seen"`
	DueNow             int     `json:"dueNow"`
	MeanRetrievability float64 `json:"meanRetrievability"`
}

// Progress is a learner's latest record for a song plus its summary.
type Progress struct {
	Record  *domain.ProgressRecord `json:"record"`
	Summary Summary                `json:"summary"`
}

// Progress loads the learner's latest record for a song and summarizes it.
// A learner with no record gets a nil Record and a zero Summary.
func (s *Service) Progress(ctx context.Context, userID, songID string) (*Progress, error) {
	record, err := s.progress.GetLatestProgress(ctx, userID, songID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress for user %s song %s: %w", userID, songID, err)
	}
	return &Progress{Record: record, Summary: s.summarize(record, s.now())}, nil
}

func (s *Service) summarize(record *domain.ProgressRecord, now time.Time) Summary {
	cards := record.LatestCards()
	sum := Summary{
		Tracked: len(cards),
		Seen:    len(record.Seen()),
	}
	if len(cards) == 0 {
		return sum
	}
	var total float64
	for _, c := range cards {
		if fsrs.IsDue(&c, now) {
			sum.DueNow++
		}
		total += s.scheduler.Retrievability(&c, now)
	}
	sum.MeanRetrievability = total / float64(len(cards))
	return sum
}

// lookupLocked returns a live session, dropping it if it has idled past the
// TTL. s.mu must be held.
func (s *Service) lookupLocked(id string, now time.Time) (*session, bool) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.expired(sess, now) {
		delete(s.sessions, id)
		return nil, false
	}
	return sess, true
}

func (s *Service) expired(sess *session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.touchedAt) > s.ttl
}

// pruneLocked drops sessions idle for longer than the TTL. s.mu must be held.
func (s *Service) pruneLocked(now time.Time) {
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			slog.Debug("Pruning idle session", "session", id, "user", sess.userID)
			delete(s.sessions, id)
		}
	}
}

func (sess *session) view() *Session {
	return &Session{
		ID:        sess.id,
		UserID:    sess.userID,
		SongID:    sess.songID,
		Locale:    sess.locale,
		Questions: slices.Clone(sess.questions),
		StartedAt: sess.startedAt,
	}
}

// record builds the next progress record: this session's answers in answer
// order, then the previous record's entries for questions not answered in
// this session. Totals cover this session only.
func (sess *session) record(now time.Time) *domain.ProgressRecord {
	record := &domain.ProgressRecord{
		UserID:      sess.userID,
		SongID:      sess.songID,
		Questions:   slices.Clone(sess.answers),
		CompletedAt: domain.Millis(now),
	}
	answered := make(map[string]bool, len(sess.answers))
	for _, a := range sess.answers {
		answered[a.UUID] = true
		record.TotalQuestions++
		if a.Correct {
			record.TotalCorrect++
		}
	}
	if record.Questions == nil {
		record.Questions = []domain.QuestionResult{}
	}
	return carryForward(record, sess.previous, answered)
}

// carryForward appends one entry per unanswered uuid of previous: the last
// entry that carries a card, or the last entry when none does.
func carryForward(record, previous *domain.ProgressRecord, answered map[string]bool) *domain.ProgressRecord {
	if previous == nil {
		return record
	}
	keep := make(map[string]int)
	var order []string
	for i, e := range previous.Questions {
		if e.UUID == "" || answered[e.UUID] {
			continue
		}
		j, ok := keep[e.UUID]
		if !ok {
			order = append(order, e.UUID)
			keep[e.UUID] = i
			continue
		}
		if e.FSRS != nil || previous.Questions[j].FSRS == nil {
			keep[e.UUID] = i
		}
	}
	for _, id := range order {
		record.Questions = append(record.Questions, previous.Questions[keep[id]])
	}
	return record
}

type nopObserver struct{}

func (nopObserver) SessionStarted(string, int) {}
func (nopObserver) QuestionAnswered(bool)      {}
func (nopObserver) SessionCompleted(int, int)  {}

package domain

import (
	"time"

	"github.com/conorfennell/songquiz/internal/fsrs"
)

// QuestionResult records one answer within a session. Timestamp is in
// milliseconds since the Unix epoch.
type QuestionResult struct {
	UUID      string     `json:"uuid"`
	Correct   bool       `json:"correct"`
	Timestamp int64      `json:"timestamp"`
	FSRS      *fsrs.Card `json:"fsrs,omitempty"`
}

// ProgressRecord is a learner's snapshot for one song at the end of a session.
type ProgressRecord struct {
	ID             string           `json:"id,omitempty"`
	UserID         string           `json:"userId"`
	SongID         string           `json:"songId"`
	Questions      []QuestionResult `json:"questions"`
	TotalCorrect   int              `json:"totalCorrect"`
	TotalQuestions int              `json:"totalQuestions"`
	CompletedAt    int64            `json:"completedAt"`
}

// LatestCards returns the last card recorded for each question. Entries
// without a uuid or a card are skipped.
func (p *ProgressRecord) LatestCards() map[string]fsrs.Card {
	cards := make(map[string]fsrs.Card)
	if p == nil {
		return cards
	}
	for _, q := range p.Questions {
		if q.UUID == "" || q.FSRS == nil {
			continue
		}
		cards[q.UUID] = *q.FSRS
	}
	return cards
}

// Seen returns the uuids that appear anywhere in the record.
func (p *ProgressRecord) Seen() map[string]bool {
	seen := make(map[string]bool)
	if p == nil {
		return seen
	}
	for _, q := range p.Questions {
		if q.UUID != "" {
			seen[q.UUID] = true
		}
	}
	return seen
}

// Millis converts t to the millisecond timestamps used in progress records.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

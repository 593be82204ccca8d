// Package selector picks the questions served in a quiz session from a
// song's question bank and the learner's previous progress record.
package selector

import (
	"slices"
	"time"

	"github.com/conorfennell/songquiz/internal/domain"
	"github.com/conorfennell/songquiz/internal/fsrs"
)

// DefaultSize is the number of questions in a session.
const DefaultSize = 20

// Selector is stateless; the zero value is not usable, use New.
type Selector struct {
	size int
	// orderDueByDate sorts due questions by due date before truncating.
	// Off by default: due questions keep the bank order.
	orderDueByDate bool
}

// Option configures a Selector.
type Option func(*Selector)

// WithSize overrides the session size. Non-positive sizes are ignored.
func WithSize(n int) Option {
	return func(s *Selector) {
		if n > 0 {
			s.size = n
		}
	}
}

// WithDueDateOrder makes the most overdue questions win when more questions
// are due than fit in a session.
func WithDueDateOrder(on bool) Option {
	return func(s *Selector) {
		s.orderDueByDate = on
	}
}

func New(opts ...Option) *Selector {
	s := &Selector{size: DefaultSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Size returns the configured session size.
func (s *Selector) Size() int {
	return s.size
}

// Select returns at most Size questions from all, in this order of
// preference: questions due for review, then questions never attempted, then
// the remaining questions in bank order. With no previous record it returns
// the first questions of the bank.
func (s *Selector) Select(all []domain.Question, previous *domain.ProgressRecord, now time.Time) []domain.Question {
	if previous == nil {
		return s.fill(nil, all)
	}

	cards := previous.LatestCards()
	seen := previous.Seen()

	var due, fresh []domain.Question
	for _, q := range all {
		if c, ok := cards[q.UUID]; ok {
			if fsrs.IsDue(&c, now) {
				due = append(due, q)
			}
			continue
		}
		if q.UUID != "" && !seen[q.UUID] {
			fresh = append(fresh, q)
		}
	}

	if s.orderDueByDate {
		slices.SortStableFunc(due, func(a, b domain.Question) int {
			return cards[a.UUID].Due.Compare(cards[b.UUID].Due)
		})
	}

	if len(due) >= s.size {
		return slices.Clone(due[:s.size])
	}

	picked := append(due, fresh[:min(len(fresh), s.size-len(due))]...)
	return s.fill(picked, all)
}

// fill tops picked up to the session size with questions from all that are
// not already picked, in bank order. It is the single fallback path for
// every branch of Select.
func (s *Selector) fill(picked, all []domain.Question) []domain.Question {
	out := make([]domain.Question, 0, min(s.size, len(all)))
	taken := make(map[string]bool, len(picked))
	for _, q := range picked {
		out = append(out, q)
		taken[q.UUID] = true
	}
	for _, q := range all {
		if len(out) >= s.size {
			break
		}
		if taken[q.UUID] {
			continue
		}
		out = append(out, q)
	}
	return out
}

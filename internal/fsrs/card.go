package fsrs

import "time"

// Card is the memory state of one question for one learner.
type Card struct {
	Due           time.Time  `json:"due"`
	Stability     float64    `json:"stability"`
	Difficulty    float64    `json:"difficulty"`
	ElapsedDays   int        `json:"elapsed_days"`
	ScheduledDays int        `json:"scheduled_days"`
	Reps          int        `json:"reps"`
	Lapses        int        `json:"lapses"`
	State         State      `json:"state"`
	Step          int        `json:"learning_steps,omitempty"`
	LastReview    *time.Time `json:"last_review,omitempty"`
}

// NewCard returns a never-reviewed card that is due immediately.
func NewCard(now time.Time) Card {
	return Card{Due: now, State: New}
}

// clone returns a copy that shares no pointers with c.
func (c Card) clone() Card {
	out := c
	if c.LastReview != nil {
		v := *c.LastReview
		out.LastReview = &v
	}
	return out
}

// IsDue reports whether the card exists and is scheduled at or before now.
// A card with a zero due time is treated as malformed and never due.
func IsDue(c *Card, now time.Time) bool {
	if c == nil || c.Due.IsZero() {
		return false
	}
	return !c.Due.After(now)
}

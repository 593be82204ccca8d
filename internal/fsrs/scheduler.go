package fsrs

import (
	"math"
	"slices"
	"time"
)

const day = 24 * time.Hour

// Scheduler advances cards. It holds no mutable state, so one Scheduler may
// be shared by any number of goroutines, and two Schedulers built from equal
// Params and Fuzzers behave identically.
type Scheduler struct {
	model            model
	desiredRetention float64
	maximumInterval  int
	learningSteps    []time.Duration
	relearningSteps  []time.Duration
	fuzz             Fuzzer // nil disables fuzzing
}

// NewScheduler validates p and builds a Scheduler. A nil p means
// DefaultParams. When p.EnableFuzz is set and fuzz is nil, a SeededFuzzer
// with seed 0 is used.
func NewScheduler(p *Params, fuzz Fuzzer) (*Scheduler, error) {
	if p == nil {
		p = DefaultParams()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		model:            newModel(p.Weights),
		desiredRetention: p.DesiredRetention,
		maximumInterval:  p.MaximumInterval,
		learningSteps:    slices.Clone(p.LearningSteps),
		relearningSteps:  slices.Clone(p.RelearningSteps),
	}
	if p.EnableFuzz {
		if fuzz == nil {
			fuzz = SeededFuzzer{}
		}
		s.fuzz = fuzz
	}
	return s, nil
}

// Advance returns the state of card after it is answered with rating at now.
// A nil card is a question that has never been answered. The input card is
// not modified.
func (s *Scheduler) Advance(card *Card, rating Rating, now time.Time) Card {
	var c Card
	if card == nil {
		c = NewCard(now)
	} else {
		c = card.clone()
	}
	rating = rating.normalize()

	var elapsed float64
	if c.LastReview != nil {
		elapsed = math.Max(now.Sub(*c.LastReview).Hours()/24.0, 0)
	}
	c.ElapsedDays = int(elapsed)

	s.updateMemory(&c, rating, elapsed)

	if rating == Again {
		c.Lapses++
	} else {
		c.Reps++
	}

	if c.State == New {
		c.State = Learning
		c.Step = 0
	}

	interval := s.transition(&c, rating)

	if s.fuzz != nil && c.State == Review {
		if days := int(interval / day); days > 0 {
			u := math.Min(math.Max(s.fuzz.Sample(c, now), 0), 1)
			interval = time.Duration(applyFuzz(days, s.maximumInterval, u)) * day
		}
	}

	c.ScheduledDays = int(interval / day)
	c.Due = now.Add(interval)
	reviewed := now
	c.LastReview = &reviewed
	return c
}

// Retrievability is the estimated probability of recalling the card at now.
// Cards that have never been reviewed return 0.
func (s *Scheduler) Retrievability(c *Card, now time.Time) float64 {
	if c == nil || c.LastReview == nil || c.Stability <= 0 {
		return 0
	}
	elapsed := math.Max(now.Sub(*c.LastReview).Hours()/24.0, 0)
	return s.model.retrievability(elapsed, c.Stability)
}

func (s *Scheduler) updateMemory(c *Card, rating Rating, elapsed float64) {
	if c.State == New || c.Stability <= 0 {
		c.Stability = s.model.initStability(rating)
		c.Difficulty = s.model.initDifficulty(rating, true)
		return
	}
	if elapsed < 1 {
		c.Stability = s.model.shortTermStability(c.Stability, rating)
	} else {
		r := s.model.retrievability(elapsed, c.Stability)
		c.Stability = s.model.nextStability(c.Difficulty, c.Stability, r, rating)
	}
	c.Difficulty = s.model.nextDifficulty(c.Difficulty, rating)
}

func (s *Scheduler) transition(c *Card, rating Rating) time.Duration {
	switch c.State {
	case Learning:
		return s.transitionSteps(c, rating, s.learningSteps)
	case Relearning:
		return s.transitionSteps(c, rating, s.relearningSteps)
	default:
		return s.transitionReview(c, rating)
	}
}

// transitionSteps walks the (re)learning ladder. Passing the last step, or
// answering Easy, graduates the card to Review.
func (s *Scheduler) transitionSteps(c *Card, rating Rating, steps []time.Duration) time.Duration {
	step := max(c.Step, 0)
	if len(steps) == 0 || (step >= len(steps) && rating != Again) {
		return s.graduate(c)
	}

	switch rating {
	case Again:
		c.Step = 0
		return steps[0]
	case Hard:
		if step == 0 && len(steps) == 1 {
			return time.Duration(float64(steps[0]) * 1.5)
		}
		if step == 0 {
			return (steps[0] + steps[1]) / 2
		}
		return steps[step]
	case Good:
		if step+1 >= len(steps) {
			return s.graduate(c)
		}
		c.Step = step + 1
		return steps[c.Step]
	default:
		return s.graduate(c)
	}
}

func (s *Scheduler) transitionReview(c *Card, rating Rating) time.Duration {
	if rating == Again {
		c.State = Relearning
		c.Step = 0
		return s.relearningSteps[0]
	}
	c.Step = 0
	return time.Duration(s.model.nextInterval(c.Stability, s.desiredRetention, s.maximumInterval)) * day
}

func (s *Scheduler) graduate(c *Card) time.Duration {
	c.State = Review
	c.Step = 0
	return time.Duration(s.model.nextInterval(c.Stability, s.desiredRetention, s.maximumInterval)) * day
}

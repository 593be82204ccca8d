// Package fsrs implements the card state engine used to schedule quiz
// questions: an FSRS v6 memory model with a New/Learning/Review/Relearning
// lifecycle.
package fsrs

import (
	"errors"
	"fmt"
	"time"
)

// Rating is the quality of a single answer.
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

var ratingNames = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}

func (r Rating) String() string {
	if r >= Again && r <= Easy {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// normalize folds out-of-range ratings onto the nearest valid one.
func (r Rating) normalize() Rating {
	if r < Again {
		return Again
	}
	if r > Easy {
		return Easy
	}
	return r
}

// Rate maps a multiple-choice outcome onto the rating scale. The quiz has no
// partial credit, so only Good and Again are ever produced.
func Rate(correct bool) Rating {
	if correct {
		return Good
	}
	return Again
}

// State is the lifecycle stage of a card. The numeric values are part of the
// stored progress format.
type State int

const (
	New        State = 0
	Learning   State = 1
	Review     State = 2
	Relearning State = 3
)

var stateNames = [...]string{New: "New", Learning: "Learning", Review: "Review", Relearning: "Relearning"}

func (s State) String() string {
	if s >= New && s <= Relearning {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DefaultWeights are the FSRS v6 default parameters.
var DefaultWeights = [21]float64{
	0.212, 1.2931, 2.3065, 8.2956, // w[0..3]  initial stability per rating
	6.4133, 0.8334, 3.0194, 0.001, // w[4..7]  difficulty
	1.8722, 0.1666, 0.796, 1.4835, // w[8..11] recall stability
	0.0614, 0.2629, 1.6483, 0.6014, // w[12..15] forget stability, hard penalty
	1.8729, 0.5425, 0.0912, 0.0658, // w[16..19] easy bonus, short-term
	0.1542, // w[20] decay
}

var lowerBounds = [21]float64{
	0.001, 0.001, 0.001, 0.001,
	1.0, 0.001, 0.001, 0.001,
	0.0, 0.0, 0.001, 0.001,
	0.001, 0.001, 0.0, 0.0,
	1.0, 0.0, 0.0, 0.0,
	0.1,
}

var upperBounds = [21]float64{
	100.0, 100.0, 100.0, 100.0,
	10.0, 4.0, 4.0, 0.75,
	4.5, 0.8, 3.5, 5.0,
	0.25, 0.9, 4.0, 1.0,
	6.0, 2.0, 2.0, 0.8,
	0.8,
}

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("fsrs: invalid parameters")

// Params holds the parameters for the scheduler.
type Params struct {
	Weights          [21]float64
	DesiredRetention float64 // target recall probability at the due date
	MaximumInterval  int     // days
	LearningSteps    []time.Duration
	RelearningSteps  []time.Duration
	EnableFuzz       bool
}

// DefaultParams returns 90% retention, a 100 year interval cap and fuzzing on.
func DefaultParams() *Params {
	return &Params{
		Weights:          DefaultWeights,
		DesiredRetention: 0.9,
		MaximumInterval:  36500,
		LearningSteps:    []time.Duration{time.Minute, 10 * time.Minute},
		RelearningSteps:  []time.Duration{10 * time.Minute},
		EnableFuzz:       true,
	}
}

// Validate checks the weights against their bounds and the scalar settings
// against their domains.
func (p *Params) Validate() error {
	for i, w := range p.Weights {
		if w < lowerBounds[i] || w > upperBounds[i] {
			return fmt.Errorf("%w: w[%d] = %f, bounds [%f, %f]",
				ErrInvalidParams, i, w, lowerBounds[i], upperBounds[i])
		}
	}
	if p.DesiredRetention <= 0 || p.DesiredRetention > 1 {
		return fmt.Errorf("%w: desired retention %f out of range (0, 1]", ErrInvalidParams, p.DesiredRetention)
	}
	if p.MaximumInterval < 1 {
		return fmt.Errorf("%w: maximum interval %d must be positive", ErrInvalidParams, p.MaximumInterval)
	}
	// A lapse must always move the card out of Review.
	if len(p.RelearningSteps) == 0 {
		return fmt.Errorf("%w: at least one relearning step is required", ErrInvalidParams)
	}
	for _, d := range append(append([]time.Duration{}, p.LearningSteps...), p.RelearningSteps...) {
		if d <= 0 {
			return fmt.Errorf("%w: step %s must be positive", ErrInvalidParams, d)
		}
	}
	return nil
}

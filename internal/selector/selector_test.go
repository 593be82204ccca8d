package selector

import (
	"fmt"
	"testing"
	"time"

	"github.com/conorfennell/songquiz/internal/domain"
	"github.com/conorfennell/songquiz/internal/fsrs"
)

var now = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func bank(n int) []domain.Question {
	qs := make([]domain.Question, n)
	for i := range qs {
		qs[i] = domain.Question{UUID: fmt.Sprintf("q%d", i+1), Question: fmt.Sprintf("Question %d", i+1)}
	}
	return qs
}

func uuids(qs []domain.Question) []string {
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.UUID
	}
	return ids
}

func result(uuid string, due time.Time) domain.QuestionResult {
	return domain.QuestionResult{UUID: uuid, FSRS: &fsrs.Card{Due: due, State: fsrs.Review}}
}

func rangeIDs(from, to int) []string {
	var ids []string
	for i := from; i <= to; i++ {
		ids = append(ids, fmt.Sprintf("q%d", i))
	}
	return ids
}

func assertIDs(t *testing.T, got []domain.Question, want []string) {
	t.Helper()
	ids := uuids(got)
	if len(ids) != len(want) {
		t.Fatalf("Expected %d questions, got %d: %v", len(want), len(ids), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, ids)
		}
	}
}

func TestSelectWithoutHistory(t *testing.T) {
	s := New()
	assertIDs(t, s.Select(bank(30), nil, now), rangeIDs(1, 20))
}

func TestSelectDueThenNew(t *testing.T) {
	s := New()
	previous := &domain.ProgressRecord{Questions: []domain.QuestionResult{
		result("q1", now.Add(-24*time.Hour)),
		result("q2", now.Add(24*time.Hour)),
	}}

	want := append([]string{"q1"}, rangeIDs(3, 21)...)
	assertIDs(t, s.Select(bank(30), previous, now), want)
}

func TestSelectPrefersDue(t *testing.T) {
	s := New()
	all := bank(30)
	previous := &domain.ProgressRecord{}
	// Due questions listed in reverse so the bank order is what decides.
	for i := 25; i >= 1; i-- {
		previous.Questions = append(previous.Questions, result(fmt.Sprintf("q%d", i), now.Add(-time.Hour)))
	}

	got := s.Select(all, previous, now)
	assertIDs(t, got, rangeIDs(1, 20))
}

func TestSelectFallback(t *testing.T) {
	s := New()
	all := bank(30)
	previous := &domain.ProgressRecord{}
	for _, q := range all {
		previous.Questions = append(previous.Questions, result(q.UUID, now.Add(48*time.Hour)))
	}
	assertIDs(t, s.Select(all, previous, now), rangeIDs(1, 20))
}

func TestSelectPadsToSize(t *testing.T) {
	s := New()
	all := bank(30)
	previous := &domain.ProgressRecord{}
	// q1 due, q2..q28 seen and not due, q29 and q30 new.
	previous.Questions = append(previous.Questions, result("q1", now.Add(-time.Hour)))
	for i := 2; i <= 28; i++ {
		previous.Questions = append(previous.Questions, result(fmt.Sprintf("q%d", i), now.Add(time.Hour)))
	}

	want := append([]string{"q1", "q29", "q30"}, rangeIDs(2, 18)...)
	assertIDs(t, s.Select(all, previous, now), want)
}

func TestSelectSize(t *testing.T) {
	testCases := []struct {
		name     string
		poolSize int
		previous *domain.ProgressRecord
		expected int
	}{
		{"small pool, no history", 5, nil, 5},
		{"large pool, no history", 50, nil, 20},
		{"small pool, history", 7, &domain.ProgressRecord{Questions: []domain.QuestionResult{result("q2", now.Add(time.Hour))}}, 7},
		{"empty pool", 0, &domain.ProgressRecord{}, 0},
		{"empty history", 25, &domain.ProgressRecord{}, 20},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := New().Select(bank(tc.poolSize), tc.previous, now)
			if len(got) != tc.expected {
				t.Errorf("Expected %d questions, got %d", tc.expected, len(got))
			}
		})
	}
}

func TestSelectMalformedEntries(t *testing.T) {
	s := New(WithSize(3))
	all := bank(5)
	previous := &domain.ProgressRecord{Questions: []domain.QuestionResult{
		{UUID: "", FSRS: &fsrs.Card{Due: now.Add(-time.Hour)}},
		{UUID: "q1"},                     // no card: seen, not due
		{UUID: "q2", FSRS: &fsrs.Card{}}, // zero due: not due
		result("q5", now.Add(-time.Hour)),
	}}

	assertIDs(t, s.Select(all, previous, now), []string{"q5", "q3", "q4"})
}

func TestSelectUsesLatestEntry(t *testing.T) {
	s := New(WithSize(2))
	previous := &domain.ProgressRecord{Questions: []domain.QuestionResult{
		result("q1", now.Add(-time.Hour)),
		result("q1", now.Add(time.Hour)),
	}}

	// q1's latest card is not due, so only new questions are picked.
	assertIDs(t, s.Select(bank(3), previous, now), []string{"q2", "q3"})
}

func TestSelectDueDateOrder(t *testing.T) {
	previous := &domain.ProgressRecord{Questions: []domain.QuestionResult{
		result("q1", now.Add(-1*time.Hour)),
		result("q2", now.Add(-3*time.Hour)),
		result("q3", now.Add(-2*time.Hour)),
	}}

	t.Run("bank order by default", func(t *testing.T) {
		assertIDs(t, New(WithSize(2)).Select(bank(3), previous, now), []string{"q1", "q2"})
	})

	t.Run("most overdue first", func(t *testing.T) {
		s := New(WithSize(2), WithDueDateOrder(true))
		assertIDs(t, s.Select(bank(3), previous, now), []string{"q2", "q3"})
	})
}

func TestSelectDeterministic(t *testing.T) {
	s := New()
	all := bank(40)
	previous := &domain.ProgressRecord{Questions: []domain.QuestionResult{
		result("q4", now.Add(-time.Hour)),
		result("q9", now.Add(-time.Minute)),
		result("q11", now.Add(time.Hour)),
	}}

	first := uuids(s.Select(all, previous, now))
	for i := 0; i < 10; i++ {
		assertIDs(t, New().Select(all, previous, now), first)
	}
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	all := bank(25)
	previous := &domain.ProgressRecord{}
	for i := 25; i >= 1; i-- {
		previous.Questions = append(previous.Questions, result(fmt.Sprintf("q%d", i), now.Add(-time.Duration(i)*time.Hour)))
	}

	got := New(WithDueDateOrder(true)).Select(all, previous, now)
	got[0].UUID = "changed"

	assertIDs(t, all, rangeIDs(1, 25))
}

func TestWithSize(t *testing.T) {
	if got := New(WithSize(0)).Size(); got != DefaultSize {
		t.Errorf("Expected WithSize(0) to keep %d, got %d", DefaultSize, got)
	}
	if got := New(WithSize(5)).Size(); got != 5 {
		t.Errorf("Expected size 5, got %d", got)
	}
}

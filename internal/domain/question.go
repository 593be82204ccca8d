package domain

// DefaultLocale applies to questions and sessions that name no locale.
const DefaultLocale = "en"

// Options are the four labeled answers of a question.
type Options struct {
	A string `json:"a" validate:"required"`
	B string `json:"b" validate:"required"`
	C string `json:"c" validate:"required"`
	D string `json:"d" validate:"required"`
}

// Get returns the text of the option with the given label (a-d).
func (o Options) Get(label string) (string, bool) {
	switch label {
	case "a":
		return o.A, true
	case "b":
		return o.B, true
	case "c":
		return o.C, true
	case "d":
		return o.D, true
	}
	return "", false
}

// Question is one multiple-choice item of a song's question bank.
// Correct is never sent to learners.
type Question struct {
	UUID     string  `json:"uuid" validate:"omitempty,uuid"`
	SongID   string  `json:"song_id" validate:"required"`
	Locale   string  `json:"locale" validate:"required"`
	Question string  `json:"question" validate:"required"`
	Options  Options `json:"options"`
	AudioCID *string `json:"audio_cid"`
	Correct  string  `json:"-" validate:"required,oneof=a b c d"`
	Position int     `json:"-"`
	Hash     string  `json:"-"`
}

// IsCorrect reports whether label names the correct option.
func (q Question) IsCorrect(label string) bool {
	return label == q.Correct
}

package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conorfennell/songquiz/internal/domain"
)

// Namespace scopes the name-based question IDs generated by QuestionID.
var Namespace = uuid.MustParse("6a0f5c8e-3d1b-5e7a-9c42-1f8b2d7e4a90")

// Normalize concatenates the question's content after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them. The correct answer is part of the content, so fixing a
// wrong answer key yields a new hash.
func Normalize(q domain.Question) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		p = strings.TrimSpace(p)
		return p
	}

	parts := []string{
		normalizePart(q.Question),
		normalizePart(q.Options.A),
		normalizePart(q.Options.B),
		normalizePart(q.Options.C),
		normalizePart(q.Options.D),
		normalizePart(q.Correct),
	}
	// Joined with newlines so adjacent fields cannot run together.
	return strings.Join(parts, "\n")
}

// Hash normalizes the question and returns its SHA-256 hash as a hex string.
func Hash(q domain.Question) string {
	hashBytes := sha256.Sum256([]byte(Normalize(q)))
	return fmt.Sprintf("%x", hashBytes)
}

// QuestionID derives a stable version 5 uuid from the song, locale and
// question text. Options and the answer key are left out so that editing them
// keeps the learner's history attached to the question.
func QuestionID(q domain.Question) string {
	name := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(q.SongID)),
		strings.ToLower(strings.TrimSpace(q.Locale)),
		strings.ToLower(strings.TrimSpace(strings.ReplaceAll(q.Question, "\r\n", "\n"))),
	}, "\n")
	return uuid.NewSHA1(Namespace, []byte(name)).String()
}

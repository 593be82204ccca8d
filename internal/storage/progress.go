package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/conorfennell/songquiz/internal/domain"
)

// SaveProgress stores a completed session and returns its id. A record
// without an id is given a new uuid.
func (db *DB) SaveProgress(ctx context.Context, record *domain.ProgressRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	questions := record.Questions
	if questions == nil {
		questions = []domain.QuestionResult{}
	}
	payload, err := json.Marshal(questions)
	if err != nil {
		return "", fmt.Errorf("failed to encode progress %s: %w", record.ID, err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO progress (id, user_id, song_id, total_correct, total_questions, completed_at, questions)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.UserID,
		record.SongID,
		record.TotalCorrect,
		record.TotalQuestions,
		record.CompletedAt,
		string(payload),
	)
	if err != nil {
		return "", fmt.Errorf("failed to save progress for user %s song %s: %w", record.UserID, record.SongID, err)
	}
	return record.ID, nil
}

func scanProgress(row rowScanner) (*domain.ProgressRecord, error) {
	var p domain.ProgressRecord
	var payload string
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.SongID,
		&p.TotalCorrect,
		&p.TotalQuestions,
		&p.CompletedAt,
		&payload,
	); err != nil {
		return nil, err
	}
	p.Questions = decodeResults(p.ID, payload)
	return &p, nil
}

// decodeResults decodes each stored answer on its own so one corrupt entry
// cannot hide the rest of the record. An entry that fails to decode keeps
// only its uuid: the question counts as seen but has no card, so it is
// neither due nor new. Entries without a readable uuid are dropped.
func decodeResults(recordID, payload string) []domain.QuestionResult {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		slog.Warn("Discarding unreadable progress payload", "record", recordID, "error", err)
		return []domain.QuestionResult{}
	}

	results := make([]domain.QuestionResult, 0, len(raw))
	for i, entry := range raw {
		var r domain.QuestionResult
		err := json.Unmarshal(entry, &r)
		if err == nil {
			results = append(results, r)
			continue
		}

		var id struct {
			UUID string `json:"uuid"`
		}
		if json.Unmarshal(entry, &id) != nil || id.UUID == "" {
			slog.Warn("Dropping corrupt progress entry", "record", recordID, "index", i, "error", err)
			continue
		}
		slog.Warn("Keeping corrupt progress entry without its card", "record", recordID, "uuid", id.UUID, "error", err)
		results = append(results, domain.QuestionResult{UUID: id.UUID})
	}
	return results
}

// GetLatestProgress returns the most recently completed record for a user
// and song, or nil if there is none.
func (db *DB) GetLatestProgress(ctx context.Context, userID, songID string) (*domain.ProgressRecord, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, song_id, total_correct, total_questions, completed_at, questions
		FROM progress
		WHERE user_id = ? AND song_id = ?
		ORDER BY completed_at DESC, rowid DESC
		LIMIT 1
	`, userID, songID)

	p, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No progress yet
		}
		return nil, fmt.Errorf("failed to get latest progress for user %s song %s: %w", userID, songID, err)
	}
	return p, nil
}

// ListProgress returns up to limit records for a user and song, newest first.
func (db *DB) ListProgress(ctx context.Context, userID, songID string, limit int) ([]domain.ProgressRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, song_id, total_correct, total_questions, completed_at, questions
		FROM progress
		WHERE user_id = ? AND song_id = ?
		ORDER BY completed_at DESC, rowid DESC
		LIMIT ?
	`, userID, songID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress for user %s song %s: %w", userID, songID, err)
	}
	defer rows.Close()

	var records []domain.ProgressRecord
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress row for user %s: %w", userID, err)
		}
		records = append(records, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress for user %s: %w", userID, err)
	}
	return records, nil
}

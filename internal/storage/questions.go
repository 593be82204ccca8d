package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conorfennell/songquiz/internal/domain"
)

const questionColumns = `uuid, song_id, locale, position, question,
	option_a, option_b, option_c, option_d, correct, audio_cid, hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (domain.Question, error) {
	var q domain.Question
	var audio sql.NullString
	err := row.Scan(
		&q.UUID,
		&q.SongID,
		&q.Locale,
		&q.Position,
		&q.Question,
		&q.Options.A,
		&q.Options.B,
		&q.Options.C,
		&q.Options.D,
		&q.Correct,
		&audio,
		&q.Hash,
	)
	if audio.Valid {
		q.AudioCID = &audio.String
	}
	return q, err
}

// UpsertQuestion inserts a question or replaces the stored content of an
// existing one with the same uuid.
func (db *DB) UpsertQuestion(ctx context.Context, q domain.Question, sourceID int64) error {
	var audio sql.NullString
	if q.AudioCID != nil {
		audio = sql.NullString{String: *q.AudioCID, Valid: true}
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO questions (`+questionColumns+`, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			song_id = excluded.song_id,
			locale = excluded.locale,
			position = excluded.position,
			question = excluded.question,
			option_a = excluded.option_a,
			option_b = excluded.option_b,
			option_c = excluded.option_c,
			option_d = excluded.option_d,
			correct = excluded.correct,
			audio_cid = excluded.audio_cid,
			hash = excluded.hash,
			source_id = excluded.source_id
	`,
		q.UUID,
		q.SongID,
		q.Locale,
		q.Position,
		q.Question,
		q.Options.A,
		q.Options.B,
		q.Options.C,
		q.Options.D,
		q.Correct,
		audio,
		q.Hash,
		sourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert question %s: %w", q.UUID, err)
	}
	return nil
}

// FindQuestionByUUID retrieves a question by its uuid.
func (db *DB) FindQuestionByUUID(ctx context.Context, uuid string) (*domain.Question, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+questionColumns+`
		FROM questions WHERE uuid = ?
	`, uuid)

	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Question not found
		}
		return nil, fmt.Errorf("failed to find question %s: %w", uuid, err)
	}
	return &q, nil
}

// GetQuestions returns a song's questions for a locale in bank order.
func (db *DB) GetQuestions(ctx context.Context, songID, locale string) ([]domain.Question, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+questionColumns+`
		FROM questions
		WHERE song_id = ? AND locale = ?
		ORDER BY position, uuid
	`, songID, locale)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions for song %s (%s): %w", songID, locale, err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question row for song %s: %w", songID, err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate questions for song %s: %w", songID, err)
	}
	return questions, nil
}

// GetQuestionUUIDsBySourceID lists the uuids of every question a source contributed.
func (db *DB) GetQuestionUUIDsBySourceID(ctx context.Context, sourceID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT uuid FROM questions WHERE source_id = ?
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions for source ID %d: %w", sourceID, err)
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, fmt.Errorf("failed to scan question uuid for source ID %d: %w", sourceID, err)
		}
		uuids = append(uuids, uuid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate questions for source ID %d: %w", sourceID, err)
	}
	return uuids, nil
}

// DeleteQuestionByUUID removes a question from the database by its uuid.
func (db *DB) DeleteQuestionByUUID(ctx context.Context, uuid string) error {
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM questions
		WHERE uuid = ?
	`, uuid)
	if err != nil {
		return fmt.Errorf("failed to delete question %s: %w", uuid, err)
	}
	return nil
}

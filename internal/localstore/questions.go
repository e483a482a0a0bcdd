package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"exam-prep-sync/internal/domain"
)

// SaveQuestions writes every question in one transaction. Each row is replaced whole;
// questions not in the batch are left untouched.
func (s *Store) SaveQuestions(ctx context.Context, questions []domain.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save questions: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO questions
			(id, subject, topic, question_text, question_type, options, correct_answer, explanation, difficulty, svg_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare save questions: %w", err)
	}
	defer stmt.Close()

	for _, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("encode options for %s: %w", q.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			q.ID, q.Subject, q.Topic, q.QuestionText, q.QuestionType, string(options),
			q.CorrectAnswer, nullString(q.Explanation), q.Difficulty, nullString(q.SVGData),
		); err != nil {
			return fmt.Errorf("save question %s: %w", q.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Questions(ctx context.Context) ([]domain.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, topic, question_text, question_type, options, correct_answer, explanation, difficulty, svg_data
		FROM questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var (
			q           domain.Question
			options     string
			explanation sql.NullString
			svg         sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.Subject, &q.Topic, &q.QuestionText, &q.QuestionType, &options,
			&q.CorrectAnswer, &explanation, &q.Difficulty, &svg); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if q.Options, err = domain.NormalizeOptions(options); err != nil {
			return nil, fmt.Errorf("question %s: %w", q.ID, err)
		}
		q.Explanation = stringPtr(explanation)
		q.SVGData = stringPtr(svg)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

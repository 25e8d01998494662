package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam retrieves all questions for a given exam, ordered by sequence.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.StoredQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, statement, options, correct_option, sequence, marks, negative_marks
		 FROM questions WHERE exam_id = $1
		 ORDER BY sequence`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.StoredQuestion
	for rows.Next() {
		var q model.StoredQuestion
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Statement, &q.Options, &q.CorrectOption, &q.Sequence, &q.Marks, &q.NegativeMarks); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CreateBatch inserts questions in a single round trip and fills their IDs.
func (r *QuestionRepository) CreateBatch(ctx context.Context, questions []model.StoredQuestion) error {
	batch := &pgx.Batch{}
	for i := range questions {
		q := &questions[i]
		batch.Queue(
			`INSERT INTO questions (exam_id, statement, options, correct_option, sequence, marks, negative_marks)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			q.ExamID, q.Statement, q.Options, q.CorrectOption, q.Sequence, q.Marks, q.NegativeMarks,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&q.ID)
		})
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store is the hosted remote store. It serves questions, used marks, attempts,
// and pods, and announces pod changes through the publisher.
type Store struct {
	pool      *pgxpool.Pool
	publisher app.ChangePublisher
	logger    *slog.Logger
}

func NewStore(pool *pgxpool.Pool, publisher app.ChangePublisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, publisher: publisher, logger: logger}
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (s *Store) ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subject, topic, question_text, question_type, options, correct_answer, explanation, difficulty, svg_data
		FROM questions
		WHERE ($1 = '' OR subject = $1) AND ($2 = '' OR topic = $2)`,
		filter.Subject, filter.Topic)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var (
			q   domain.Question
			raw []byte
		)
		if err := rows.Scan(&q.ID, &q.Subject, &q.Topic, &q.QuestionText, &q.QuestionType, &raw,
			&q.CorrectAnswer, &q.Explanation, &q.Difficulty, &q.SVGData); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if q.Options, err = domain.NormalizeOptions(json.RawMessage(raw)); err != nil {
			return nil, fmt.Errorf("question %s: %w", q.ID, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) UsedQuestionIDs(ctx context.Context, deviceID, sessionType string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT question_id FROM used_questions WHERE device_id = $1 AND session_type = $2`,
		deviceID, sessionType)
	if err != nil {
		return nil, fmt.Errorf("list used questions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan used question: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) MarkUsed(ctx context.Context, mark domain.UsedQuestionMark) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO used_questions (device_id, question_id, session_type, session_id, used_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (device_id, session_type, question_id) DO NOTHING`,
		mark.DeviceID, mark.QuestionID, mark.SessionType, mark.SessionID, mark.UsedAt)
	if err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	return nil
}

func (s *Store) ResetUsed(ctx context.Context, deviceID, sessionType string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM used_questions WHERE device_id = $1 AND session_type = $2`,
		deviceID, sessionType)
	if err != nil {
		return fmt.Errorf("reset used: %w", err)
	}
	return nil
}

// UpsertAttempt is idempotent on attempt id; replays of a delivered attempt are ignored.
func (s *Store) UpsertAttempt(ctx context.Context, a domain.Attempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO student_attempts (id, device_id, question_id, selected_answer, is_correct, time_taken_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.DeviceID, a.QuestionID, a.SelectedAnswer, a.IsCorrect, a.TimeTakenSeconds, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert attempt %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) CountAttempts(ctx context.Context, deviceID string, from, to time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM student_attempts WHERE device_id = $1 AND created_at >= $2 AND created_at < $3`,
		deviceID, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

const podColumns = `id::text, room_code, room_name, host_device_id, current_question_id, is_active, created_at`

func scanPod(row pgx.Row) (domain.Pod, error) {
	var p domain.Pod
	err := row.Scan(&p.ID, &p.RoomCode, &p.RoomName, &p.HostDeviceID, &p.CurrentQuestionID, &p.IsActive, &p.CreatedAt)
	return p, err
}

// CreatePod relies on the partial unique index over active room codes.
func (s *Store) CreatePod(ctx context.Context, pod domain.Pod) (domain.Pod, error) {
	created, err := scanPod(s.pool.QueryRow(ctx, `
		INSERT INTO pods (room_code, room_name, host_device_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_code) WHERE is_active DO NOTHING
		RETURNING `+podColumns,
		pod.RoomCode, pod.RoomName, pod.HostDeviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Pod{}, domain.ErrRoomCodeTaken
	}
	if err != nil {
		return domain.Pod{}, fmt.Errorf("create pod: %w", err)
	}
	return created, nil
}

func (s *Store) FindActivePodByCode(ctx context.Context, roomCode string) (domain.Pod, error) {
	pod, err := scanPod(s.pool.QueryRow(ctx,
		`SELECT `+podColumns+` FROM pods WHERE room_code = $1 AND is_active`, roomCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Pod{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Pod{}, fmt.Errorf("find pod: %w", err)
	}
	return pod, nil
}

func (s *Store) GetPod(ctx context.Context, podID string) (domain.Pod, error) {
	pod, err := scanPod(s.pool.QueryRow(ctx,
		`SELECT `+podColumns+` FROM pods WHERE id = $1::uuid`, podID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Pod{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Pod{}, fmt.Errorf("get pod: %w", err)
	}
	return pod, nil
}

func (s *Store) ListActivePods(ctx context.Context) ([]domain.Pod, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+podColumns+` FROM pods WHERE is_active ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	defer rows.Close()

	var pods []domain.Pod
	for rows.Next() {
		pod, err := scanPod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pod: %w", err)
		}
		pods = append(pods, pod)
	}
	return pods, rows.Err()
}

func (s *Store) DeactivatePod(ctx context.Context, podID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pods SET is_active = FALSE WHERE id = $1::uuid`, podID)
	if err != nil {
		return fmt.Errorf("deactivate pod: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	s.publish(ctx, podID, domain.EventPodUpdate)
	return nil
}

func (s *Store) SetCurrentQuestion(ctx context.Context, podID, questionID string) (domain.Pod, error) {
	pod, err := scanPod(s.pool.QueryRow(ctx, `
		UPDATE pods SET current_question_id = $2
		WHERE id = $1::uuid AND is_active
		RETURNING `+podColumns,
		podID, questionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Pod{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Pod{}, fmt.Errorf("set current question: %w", err)
	}
	s.publish(ctx, podID, domain.EventPodUpdate)
	return pod, nil
}

const memberColumns = `id::text, pod_id::text, device_id, nickname, score, joined_at`

func scanMember(row pgx.Row) (domain.PodMember, error) {
	var m domain.PodMember
	err := row.Scan(&m.ID, &m.PodID, &m.DeviceID, &m.Nickname, &m.Score, &m.JoinedAt)
	return m, err
}

func (s *Store) FindMember(ctx context.Context, podID, deviceID string) (domain.PodMember, bool, error) {
	m, err := scanMember(s.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM pod_members WHERE pod_id = $1::uuid AND device_id = $2`,
		podID, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PodMember{}, false, nil
	}
	if err != nil {
		return domain.PodMember{}, false, fmt.Errorf("find member: %w", err)
	}
	return m, true, nil
}

func (s *Store) InsertMember(ctx context.Context, member domain.PodMember) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pod_members (pod_id, device_id, nickname, score)
		VALUES ($1::uuid, $2, $3, $4)
		ON CONFLICT (pod_id, device_id) DO NOTHING`,
		member.PodID, member.DeviceID, member.Nickname, member.Score)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.publish(ctx, member.PodID, domain.EventMemberChange)
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, podID, deviceID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pod_members WHERE pod_id = $1::uuid AND device_id = $2`, podID, deviceID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.publish(ctx, podID, domain.EventMemberChange)
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, podID string) ([]domain.PodMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memberColumns+` FROM pod_members WHERE pod_id = $1::uuid ORDER BY score DESC, joined_at ASC`, podID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []domain.PodMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IncrementScore is a single server-side update so concurrent increments never lose points.
func (s *Store) IncrementScore(ctx context.Context, podID, deviceID string, delta int) (int, error) {
	var score int
	err := s.pool.QueryRow(ctx, `
		UPDATE pod_members SET score = score + $3
		WHERE pod_id = $1::uuid AND device_id = $2
		RETURNING score`,
		podID, deviceID, delta).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrMemberNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment score: %w", err)
	}
	s.publish(ctx, podID, domain.EventMemberChange)
	return score, nil
}

func (s *Store) publish(ctx context.Context, podID string, kind domain.PodEventKind) {
	if s.publisher == nil {
		return
	}
	// the row change is already committed
	if err := s.publisher.Publish(ctx, domain.PodEvent{PodID: podID, Kind: kind}); err != nil {
		s.logger.Warn("publish pod event", "podId", podID, "kind", kind, "error", err)
	}
}

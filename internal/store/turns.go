// internal/store/turns.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/signalnine/zabbix-assistant/internal/protocol"
)

const turnColumns = `id, user_id, text, reply_text, is_user_turn, created_at`

// AppendTurn stores a new turn and returns its id. ID and CreatedAt are
// assigned when empty.
func (d *DB) AppendTurn(ctx context.Context, t *protocol.ChatTurn) (string, error) {
	prepareTurn(t)
	if err := insertTurn(ctx, d.db, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// AppendUserTurn stores a user turn and its pending job in one transaction,
// so a stored question always has a scheduled answer.
func (d *DB) AppendUserTurn(ctx context.Context, t *protocol.ChatTurn) (*protocol.Job, error) {
	t.IsUserTurn = true
	t.ReplyText = ""
	prepareTurn(t)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := insertTurn(ctx, tx, t); err != nil {
		return nil, err
	}

	job := &protocol.Job{
		TurnID:    t.ID,
		UserID:    t.UserID,
		Text:      t.Text,
		Status:    protocol.JobPending,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.CreatedAt,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (turn_id, user_id, text, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, job.TurnID, job.UserID, job.Text, job.Status, toUnix(job.CreatedAt), toUnix(job.UpdatedAt)); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// PatchReply sets the reply text of an existing turn
func (d *DB) PatchReply(ctx context.Context, id, reply string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE turns SET reply_text = ? WHERE id = ?`, reply, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("turn %s: %w", id, ErrNotFound)
	}
	return nil
}

// CompleteTurn sets the reply of user turn id and appends the assistant turn
// carrying the same text in one transaction. Either both writes land or
// neither does, so a recovered job never sees a reply without its turn.
func (d *DB) CompleteTurn(ctx context.Context, id, reply string) (*protocol.ChatTurn, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM turns WHERE id = ?`, id).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("turn %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE turns SET reply_text = ? WHERE id = ?`, reply, id); err != nil {
		return nil, fmt.Errorf("patch reply: %w", err)
	}

	answer := &protocol.ChatTurn{UserID: userID, Text: reply, IsUserTurn: false}
	prepareTurn(answer)
	if err := insertTurn(ctx, tx, answer); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return answer, nil
}

// GetTurn returns a single turn by id
func (d *DB) GetTurn(ctx context.Context, id string) (*protocol.ChatTurn, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = ?`, id)
	t, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("turn %s: %w", id, ErrNotFound)
	}
	return t, err
}

// RecentTurns returns the newest limit turns for a user, oldest first
func (d *DB) RecentTurns(ctx context.Context, userID string, limit int) ([]protocol.ChatTurn, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+turnColumns+`
		FROM turns
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []protocol.ChatTurn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; callers want chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func prepareTurn(t *protocol.ChatTurn) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
}

func insertTurn(ctx context.Context, db execer, t *protocol.ChatTurn) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO turns (`+turnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Text, t.ReplyText, boolToInt(t.IsUserTurn), toUnix(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func scanTurn(s scanner) (*protocol.ChatTurn, error) {
	var t protocol.ChatTurn
	var isUser int
	var created int64
	if err := s.Scan(&t.ID, &t.UserID, &t.Text, &t.ReplyText, &isUser, &created); err != nil {
		return nil, err
	}
	t.IsUserTurn = isUser != 0
	t.CreatedAt = fromUnix(created)
	return &t, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/internal/store"
)

// created_at is stored as Unix microseconds.
const conversationColumns = `id, user_id, title, history, created_at, title_set`

func scanConversation(row *sql.Row) (*model.Conversation, error) {
	c := &model.Conversation{}
	var (
		history   string
		createdAt int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &history, &createdAt, &c.TitleSet); err != nil {
		return nil, err
	}
	h, err := store.DecodeHistory([]byte(history))
	if err != nil {
		return nil, err
	}
	c.History = h
	c.CreatedAt = time.UnixMicro(createdAt).UTC()
	return c, nil
}

func insertConversation(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, create *model.Conversation) (*model.Conversation, error) {
	history, err := store.EncodeHistory(create.History)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO conversations (id, user_id, title, history, created_at, title_set)
		VALUES (?, ?, ?, ?, ?, 0)
		RETURNING ` + conversationColumns
	return scanConversation(q.QueryRowContext(ctx, stmt, create.ID, create.UserID, create.Title, history, create.CreatedAt.UnixMicro()))
}

func (d *DB) CreateConversation(ctx context.Context, create *model.Conversation) (*model.Conversation, error) {
	var conv *model.Conversation
	err := store.WithConn(ctx, d.db, func(conn *sql.Conn) error {
		var err error
		conv, err = insertConversation(ctx, conn, create)
		return err
	})
	return conv, err
}

// LatestOrCreateConversation relies on the single-connection pool to
// serialize concurrent callers; SQLite has no row locks.
func (d *DB) LatestOrCreateConversation(ctx context.Context, create *model.Conversation) (*model.Conversation, bool, error) {
	var (
		conv    *model.Conversation
		created bool
	)
	err := store.WithTx(ctx, d.db, func(tx *sql.Tx) error {
		var owner string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ?`, create.UserID).Scan(&owner); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		latest, err := scanConversation(tx.QueryRowContext(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
			create.UserID))
		if err == nil {
			conv = latest
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		conv, err = insertConversation(ctx, tx, create)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

func (d *DB) ListConversations(ctx context.Context, userID string) ([]*model.ConversationSummary, error) {
	query := `SELECT id, title, created_at FROM conversations WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	var list []*model.ConversationSummary
	err := store.WithConn(ctx, d.db, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			s := &model.ConversationSummary{}
			var createdAt int64
			if err := rows.Scan(&s.ID, &s.Title, &createdAt); err != nil {
				return err
			}
			s.CreatedAt = time.UnixMicro(createdAt).UTC()
			list = append(list, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv *model.Conversation
	err := store.WithConn(ctx, d.db, func(conn *sql.Conn) error {
		c, err := scanConversation(conn.QueryRowContext(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		conv = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (d *DB) UpdateHistory(ctx context.Context, id string, history []model.Turn) (bool, error) {
	encoded, err := store.EncodeHistory(history)
	if err != nil {
		return false, err
	}
	var affected int64
	err = store.WithConn(ctx, d.db, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `UPDATE conversations SET history = ? WHERE id = ?`, encoded, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected > 0, err
}

func (d *DB) SetTitleOnce(ctx context.Context, id, title string) (bool, error) {
	var affected int64
	err := store.WithConn(ctx, d.db, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx,
			`UPDATE conversations SET title = ?, title_set = 1 WHERE id = ? AND title_set = 0`, title, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected > 0, err
}

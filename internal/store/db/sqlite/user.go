package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/internal/store"
)

func (d *DB) CreateUser(ctx context.Context, create *model.User) (*model.User, error) {
	stmt := `INSERT INTO users (id, username, password_hash) VALUES (?, ?, ?)`
	err := store.WithConn(ctx, d.db, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, stmt, create.ID, create.Username, create.PasswordHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	user := *create
	return &user, nil
}

func (d *DB) GetUser(ctx context.Context, find *store.FindUser) (*model.User, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = ?"), append(args, *v)
	}
	if v := find.Username; v != nil {
		where, args = append(where, "username = ?"), append(args, *v)
	}
	query := "SELECT id, username, password_hash FROM users WHERE " + strings.Join(where, " AND ") + " LIMIT 1"

	var user *model.User
	err := store.WithConn(ctx, d.db, func(conn *sql.Conn) error {
		u := &model.User{}
		if err := conn.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Username, &u.PasswordHash); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

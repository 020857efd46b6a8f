package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/internal/store"
	"github.com/XiaoXiong127/L1-Project-2/internal/store/storetest"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
)

func newTestDriver(t *testing.T) store.Driver {
	t.Helper()
	d, err := NewDB(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.Migrate(context.Background()))
	return d
}

func TestStoreSuite(t *testing.T) {
	storetest.Run(t, store.New(newTestDriver(t), logger.Nop()))
}

func TestMigrateIsIdempotent(t *testing.T) {
	d := newTestDriver(t)
	assert.NoError(t, d.Migrate(context.Background()))
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	u := &model.User{ID: "11111111-1111-7111-8111-111111111111", Username: "carol", PasswordHash: "h"}
	_, err := d.CreateUser(ctx, u)
	require.NoError(t, err)

	dup := &model.User{ID: "22222222-2222-7222-8222-222222222222", Username: "carol", PasswordHash: "h"}
	_, err = d.CreateUser(ctx, dup)
	require.Error(t, err)
	assert.True(t, d.IsUniqueViolation(err))

	assert.False(t, d.IsUniqueViolation(assert.AnError))
	assert.False(t, d.IsUniqueViolation(nil))
}

func TestForeignKeyEnforced(t *testing.T) {
	d := newTestDriver(t)
	_, err := d.CreateConversation(context.Background(), &model.Conversation{
		ID:     "33333333-3333-7333-8333-333333333333",
		UserID: "44444444-4444-7444-8444-444444444444",
		Title:  "orphan",
	})
	assert.Error(t, err)
}

func TestLegacyPairHistoryIsReadable(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)
	u := &model.User{ID: "55555555-5555-7555-8555-555555555555", Username: "dave", PasswordHash: "h"}
	_, err := d.CreateUser(ctx, u)
	require.NoError(t, err)
	conv, err := d.CreateConversation(ctx, &model.Conversation{ID: "66666666-6666-7666-8666-666666666666", UserID: u.ID, Title: "t"})
	require.NoError(t, err)

	_, err = d.GetDB().ExecContext(ctx, `UPDATE conversations SET history = ? WHERE id = ?`,
		`[["user","hi"],["assistant","hello"]]`, conv.ID)
	require.NoError(t, err)

	got, err := d.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.Turn{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
	}, got.History)
}

func TestBuildDSN(t *testing.T) {
	assert.Equal(t, "file:chat.db?"+pragmas, buildDSN("chat.db"))
	assert.Equal(t, "file::memory:?"+pragmas, buildDSN(":memory:"))
	assert.Equal(t, "file:x.db?mode=rwc&"+pragmas, buildDSN("file:x.db?mode=rwc"))
	assert.Equal(t, "file:y.db?_pragma=foreign_keys(1)", buildDSN("file:y.db?_pragma=foreign_keys(1)"))
}

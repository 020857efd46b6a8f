// Package storetest is a behavioural test suite shared by every store dialect.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/XiaoXiong127/L1-Project-2/internal/credential"
	"github.com/XiaoXiong127/L1-Project-2/internal/model"
	"github.com/XiaoXiong127/L1-Project-2/internal/store"
)

// Run exercises s, which must be migrated. Subtests create their own users
// so a single database can be shared.
func Run(t *testing.T, s *store.Store) {
	credential.Cost = bcrypt.MinCost

	t.Run("RegisterAndAuthenticate", func(t *testing.T) { testRegisterAndAuthenticate(t, s) })
	t.Run("RegisterRejectsInvalidInput", func(t *testing.T) { testRegisterInvalidInput(t, s) })
	t.Run("RegisterDuplicate", func(t *testing.T) { testRegisterDuplicate(t, s) })
	t.Run("RegisterConcurrent", func(t *testing.T) { testRegisterConcurrent(t, s) })
	t.Run("LatestOrNewCreatesOnce", func(t *testing.T) { testLatestOrNewCreatesOnce(t, s) })
	t.Run("LatestOrNewConcurrent", func(t *testing.T) { testLatestOrNewConcurrent(t, s) })
	t.Run("LatestReturnsNewest", func(t *testing.T) { testLatestReturnsNewest(t, s) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListNewestFirst(t, s) })
	t.Run("HistoryRoundTrip", func(t *testing.T) { testHistoryRoundTrip(t, s) })
	t.Run("HistoryErrors", func(t *testing.T) { testHistoryErrors(t, s) })
	t.Run("SetTitleOnce", func(t *testing.T) { testSetTitleOnce(t, s) })
	t.Run("SetTitleOnceConcurrent", func(t *testing.T) { testSetTitleOnceConcurrent(t, s) })
	t.Run("GetConversation", func(t *testing.T) { testGetConversation(t, s) })
}

func newUser(t *testing.T, s *store.Store) *model.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), "user-"+uuid.NewString(), "password")
	require.NoError(t, err)
	return u
}

func testRegisterAndAuthenticate(t *testing.T, s *store.Store) {
	ctx := context.Background()
	name := "alice-" + uuid.NewString()

	u, err := s.CreateUser(ctx, name, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, name, u.Username)
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, "s3cret", u.PasswordHash)

	got, err := s.Authenticate(ctx, name, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Authenticate(ctx, name, "wrong")
	assert.ErrorIs(t, err, store.ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "nobody-"+uuid.NewString(), "s3cret")
	assert.ErrorIs(t, err, store.ErrInvalidCredentials)
}

func testRegisterInvalidInput(t *testing.T, s *store.Store) {
	ctx := context.Background()
	_, err := s.CreateUser(ctx, "", "pw")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = s.CreateUser(ctx, "   ", "pw")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = s.CreateUser(ctx, "bob", "")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func testRegisterDuplicate(t *testing.T, s *store.Store) {
	ctx := context.Background()
	name := "dup-" + uuid.NewString()

	_, err := s.CreateUser(ctx, name, "one")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, name, "two")
	assert.ErrorIs(t, err, store.ErrUsernameTaken)
}

func testRegisterConcurrent(t *testing.T, s *store.Store) {
	ctx := context.Background()
	name := "race-" + uuid.NewString()

	const attempts = 8
	var (
		mu        sync.Mutex
		successes int
		taken     int
	)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, err := s.CreateUser(ctx, name, "pw")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrUsernameTaken):
				taken++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, taken)
}

func testLatestOrNewCreatesOnce(t *testing.T, s *store.Store) {
	ctx := context.Background()
	u := newUser(t, s)

	conv, err := s.LatestOrNewConversation(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConversationTitle, conv.Title)
	assert.False(t, conv.TitleSet)
	assert.Empty(t, conv.History)
	assert.Equal(t, u.ID, conv.UserID)

	again, err := s.LatestOrNewConversation(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	list, err := s.ListConversations(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testLatestOrNewConcurrent(t *testing.T, s *store.Store) {
	ctx := context.Background()
	u := newUser(t, s)

	const callers = 5
	ids := make([]string, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			conv, err := s.LatestOrNewConversation(ctx, u.ID)
			if err != nil {
				return err
			}
			ids[i] = conv.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	list, err := s.ListConversations(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testLatestReturnsNewest(t *testing.T, s *store.Store) {
	ctx := context.Background()
	u := newUser(t, s)

	_, err := s.CreateConversation(ctx, u.ID, "first")
	require.NoError(t, err)
	second, err := s.CreateConversation(ctx, u.ID, "second")
	require.NoError(t, err)

	latest, err := s.LatestOrNewConversation(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "second", latest.Title)
}

func testListNewestFirst(t *testing.T, s *store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	other := newUser(t, s)

	var want []string
	for _, title := range []string{"a", "b", "c"} {
		c, err := s.CreateConversation(ctx, u.ID, title)
		require.NoError(t, err)
		want = append([]string{c.ID}, want...)
	}
	_, err := s.CreateConversation(ctx, other.ID, "not mine")
	require.NoError(t, err)

	blank, err := s.CreateConversation(ctx, other.ID, "  ")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConversationTitle, blank.Title)

	list, err := s.ListConversations(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, c := range list {
		assert.Equal(t, want[i], c.ID)
		assert.False(t, c.CreatedAt.IsZero())
	}
	assert.False(t, list[0].CreatedAt.Before(list[2].CreatedAt))

	none, err := s.ListConversations(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testHistoryRoundTrip(t *testing.T, s *store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	conv, err := s.CreateConversation(ctx, u.ID, "")
	require.NoError(t, err)

	empty, err := s.LoadHistory(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.Turn{}, empty)

	histories := [][]model.Turn{
		{{Role: model.RoleUser, Content: "hi"}},
		{
			{Role: model.RoleUser, Content: "张三九的基本信息是什么"},
			{Role: model.RoleAssistant, Content: "**思考过程**：\nreason\n\n**最终回复**：\nanswer"},
			{Role: model.RoleUser, Content: `quotes " and \ backslash`},
			{Role: model.RoleAssistant, Content: ""},
		},
		{},
	}
	for _, h := range histories {
		require.NoError(t, s.ReplaceHistory(ctx, conv.ID, h))
		got, err := s.LoadHistory(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}

	// Writing the same history twice must not be mistaken for a missing row.
	same := []model.Turn{{Role: model.RoleUser, Content: "again"}}
	require.NoError(t, s.ReplaceHistory(ctx, conv.ID, same))
	require.NoError(t, s.ReplaceHistory(ctx, conv.ID, same))
}

func testHistoryErrors(t *testing.T, s *store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	conv, err := s.CreateConversation(ctx, u.ID, "")
	require.NoError(t, err)

	err = s.ReplaceHistory(ctx, uuid.NewString(), []model.Turn{{Role: model.RoleUser, Content: "x"}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.ReplaceHistory(ctx, "not-an-id", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.ReplaceHistory(ctx, conv.ID, []model.Turn{{Role: "system", Content: "x"}})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	h, err := s.LoadHistory(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, h)
}

func testSetTitleOnce(t *testing.T, s *store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	conv, err := s.LatestOrNewConversation(ctx, u.ID)
	require.NoError(t, err)

	set, err := s.SetTitleOnce(ctx, conv.ID, "first title")
	require.NoError(t, err)
	assert.True(t, set)

	set, err = s.SetTitleOnce(ctx, conv.ID, "second title")
	require.NoError(t, err)
	assert.False(t, set)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "first title", got.Title)
	assert.True(t, got.TitleSet)

	set, err = s.SetTitleOnce(ctx, uuid.NewString(), "ghost")
	require.NoError(t, err)
	assert.False(t, set)
}

func testSetTitleOnceConcurrent(t *testing.T, s *store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	conv, err := s.CreateConversation(ctx, u.ID, "")
	require.NoError(t, err)

	const writers = 10
	won := make([]bool, writers)
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		i := i
		g.Go(func() error {
			set, err := s.SetTitleOnce(ctx, conv.ID, "title-"+string(rune('a'+i)))
			won[i] = set
			return err
		})
	}
	require.NoError(t, g.Wait())

	winners := 0
	winner := ""
	for i, w := range won {
		if w {
			winners++
			winner = "title-" + string(rune('a'+i))
		}
	}
	assert.Equal(t, 1, winners)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, got.Title)
}

func testGetConversation(t *testing.T, s *store.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	conv, err := s.CreateConversation(ctx, u.ID, "mine")
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, u.ID, got.UserID)
	assert.True(t, conv.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetConversation(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetConversation(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.LatestOrNewConversation(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

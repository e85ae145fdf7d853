package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"bilisub/pkg/chat"
	"bilisub/pkg/models"
	"bilisub/pkg/schedule"
	"bilisub/pkg/store"
	"bilisub/pkg/supervisor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearch struct {
	users []models.UserSummary
	err   error
}

func (f fakeSearch) SearchUser(ctx context.Context, keyword string) ([]models.UserSummary, error) {
	return f.users, f.err
}

func newHandler(t *testing.T) (*Handler, *supervisor.Supervisor, *schedule.Store) {
	t.Helper()
	sup := supervisor.New(supervisor.Options{Store: store.NewMemory()})
	sched, err := schedule.Open("", time.UTC, nil)
	require.NoError(t, err)
	search := fakeSearch{users: []models.UserSummary{
		{UID: 11, Name: "SomeoneElse", Fans: 5},
		{UID: 22, Name: "Target", Fans: 100},
	}}
	return NewHandler("", sup, search, sched, nil), sup, sched
}

func mod(text string) chat.Incoming {
	return chat.Incoming{Destination: "twitch:#home", User: "mod", Text: text, Privileged: true}
}

func viewer(text string) chat.Incoming {
	return chat.Incoming{Destination: "twitch:#home", User: "viewer", Text: text}
}

func TestHandleIgnoresOtherMessages(t *testing.T) {
	h, _, _ := newHandler(t)
	assert.Empty(t, h.Handle(context.Background(), viewer("hello there")))
	assert.Empty(t, h.Handle(context.Background(), viewer("!bilibili add 1")))
	assert.Contains(t, h.Handle(context.Background(), viewer("!bili")), "usage")
}

func TestAddStopList(t *testing.T) {
	h, sup, _ := newHandler(t)
	ctx := context.Background()

	assert.Equal(t, "Subscribed to 42 (42)", h.Handle(ctx, mod("!bili add 42")))
	assert.Equal(t, "Already subscribed to 42", h.Handle(ctx, mod("!bili add 42")))
	assert.Equal(t, "Subscribed to 22 (22)", h.Handle(ctx, mod("!bili add target")))
	assert.Equal(t, "Subscriptions: 22 (22), 42 (42)", h.Handle(ctx, viewer("!bili list")))

	other := chat.Incoming{Destination: "console:main", Text: "!bili list"}
	assert.Equal(t, "No subscriptions", h.Handle(ctx, other))

	assert.Equal(t, "Unsubscribed from 42 (42)", h.Handle(ctx, mod("!bili stop 42")))
	assert.Equal(t, "Not subscribed to 42", h.Handle(ctx, mod("!bili stop 42")))
	assert.Equal(t, "Unsubscribed from 22 (22)", h.Handle(ctx, mod("!bili stop 22")))

	statuses, err := sup.List(ctx)
	require.NoError(t, err)
	assert.Len(t, statuses, 2)
}

type namedResolver struct{}

func (namedResolver) UserInfo(ctx context.Context, uid int64) (*models.UserSummary, error) {
	return &models.UserSummary{UID: uid, Name: "Streamer Five"}, nil
}

func TestStopByName(t *testing.T) {
	sup := supervisor.New(supervisor.Options{Store: store.NewMemory(), Resolver: namedResolver{}})
	h := NewHandler("", sup, nil, nil, nil)
	ctx := context.Background()
	assert.Equal(t, "Subscribed to Streamer Five (5)", h.Handle(ctx, mod("!bili add 5")))

	assert.Equal(t, "Unsubscribed from Streamer Five (5)", h.Handle(ctx, mod("!bili stop streamer five")))
	assert.Contains(t, h.Handle(ctx, mod("!bili stop nobody")), "not tracking")
}

func TestMutationsNeedPrivilege(t *testing.T) {
	h, _, _ := newHandler(t)
	ctx := context.Background()

	for _, line := range []string{"!bili add 1", "!bili stop 1", "!bili sleep 23:00-07:00", "!bili at clear"} {
		assert.Equal(t, "Error: "+ErrPermission.Error(), h.Handle(ctx, viewer(line)), line)
	}
}

func TestScheduleWindows(t *testing.T) {
	h, _, sched := newHandler(t)
	ctx := context.Background()

	assert.Equal(t, "Set sleep window to 23:00-07:00", h.Handle(ctx, mod("!bili sleep 23:00-07:00")))
	assert.True(t, sched.Sleeping("twitch:#home", time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)))

	assert.Equal(t, "Cleared sleep window", h.Handle(ctx, mod("!bili sleep clear")))
	assert.False(t, sched.Sleeping("twitch:#home", time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)))

	assert.Equal(t, "Set at window to 18:00-20:00", h.Handle(ctx, mod("!bili at 18:00-20:00")))
	assert.Contains(t, h.Handle(ctx, mod("!bili at noon")), "Error")
}

func TestSearch(t *testing.T) {
	h, _, _ := newHandler(t)
	reply := h.Handle(context.Background(), viewer("!bili search target"))
	assert.Equal(t, "SomeoneElse (11, 5 fans) | Target (22, 100 fans)", reply)

	empty := NewHandler("!sub", supervisor.New(supervisor.Options{Store: store.NewMemory()}), fakeSearch{}, nil, nil)
	assert.Equal(t, "No users found", empty.Handle(context.Background(), viewer("!sub search x")))
	assert.Contains(t, empty.Handle(context.Background(), mod("!sub add ghost")), "no user matches")

	failing := NewHandler("", supervisor.New(supervisor.Options{Store: store.NewMemory()}), fakeSearch{err: errors.New("code -412")}, nil, nil)
	assert.Contains(t, failing.Handle(context.Background(), mod("!bili add ghost")), "code -412")
}

func TestExecuteUnknownCommand(t *testing.T) {
	h, _, _ := newHandler(t)
	_, err := h.Execute(context.Background(), Request{Name: "dance"})
	assert.ErrorIs(t, err, ErrUsage)
}

type seasonResolver struct{}

func (seasonResolver) UserInfo(ctx context.Context, id int64) (*models.UserSummary, error) {
	return &models.UserSummary{UID: id, Name: "Show"}, nil
}

func TestSeasonCommands(t *testing.T) {
	h, accounts, accountSched := newHandler(t)
	seasons := supervisor.New(supervisor.Options{Store: store.NewMemory(), Resolver: seasonResolver{}})
	seasonSched, err := schedule.Open("", time.UTC, nil)
	require.NoError(t, err)
	h.WithSeasons(NewHandler("", seasons, nil, seasonSched, nil))
	ctx := context.Background()

	assert.Equal(t, "Subscribed to Show (42)", h.Handle(ctx, mod("!bili season add 42")))
	assert.Equal(t, "Subscriptions: Show (42)", h.Handle(ctx, viewer("!bili season list")))
	assert.Equal(t, "No subscriptions", h.Handle(ctx, viewer("!bili list")))

	// season windows are separate from account windows
	night := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "Set sleep window to 23:00-07:00", h.Handle(ctx, mod("!bili season sleep 23:00-07:00")))
	assert.True(t, seasonSched.Sleeping("twitch:#home", night))
	assert.False(t, accountSched.Sleeping("twitch:#home", night))
	assert.Equal(t, "Set at window to 18:00-20:00", h.Handle(ctx, mod("!bili season at 18:00-20:00")))

	assert.Equal(t, "Error: "+ErrPermission.Error(), h.Handle(ctx, viewer("!bili season add 43")))
	assert.Contains(t, h.Handle(ctx, mod("!bili season add some show")), "not a uid")
	assert.Contains(t, h.Handle(ctx, mod("!bili season search x")), "usage: season")
	assert.Contains(t, h.Handle(ctx, mod("!bili season")), "usage: season")

	assert.Equal(t, "Unsubscribed from Show (42)", h.Handle(ctx, mod("!bili season stop show")))

	statuses, err := accounts.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestSeasonCommandsUnavailable(t *testing.T) {
	h, _, _ := newHandler(t)
	assert.Contains(t, h.Handle(context.Background(), mod("!bili season add 1")), "not available")
}

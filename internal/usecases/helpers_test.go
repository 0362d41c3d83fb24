package usecases

import (
	"context"
	"sync"
	"time"

	"github.com/practice-sem-2/group-chat-service/internal/bridge"
	"github.com/practice-sem-2/group-chat-service/internal/models"
	storage "github.com/practice-sem-2/group-chat-service/internal/storages"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func bg() context.Context {
	return context.Background()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingUpdates struct {
	mu     sync.Mutex
	events []interface{}
}

func (r *recordingUpdates) add(e interface{}) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recordingUpdates) all() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.events...)
}

func (r *recordingUpdates) GroupCreated(g *models.GroupCreated) error   { return r.add(g) }
func (r *recordingUpdates) ChatCreated(c *models.ChatCreated) error     { return r.add(c) }
func (r *recordingUpdates) MessageSent(m *models.MessageSent) error     { return r.add(m) }
func (r *recordingUpdates) MemberAdded(m *models.MemberAdded) error     { return r.add(m) }
func (r *recordingUpdates) MemberRemoved(m *models.MemberRemoved) error { return r.add(m) }
func (r *recordingUpdates) RoleChanged(rc *models.RoleChanged) error    { return r.add(rc) }
func (r *recordingUpdates) GroupDeleted(g *models.GroupDeleted) error   { return r.add(g) }

// UsecaseTestSuite wires every usecase over one in-memory store.
type UsecaseTestSuite struct {
	suite.Suite
	logger     *logrus.Logger
	hook       *test.Hook
	store      *storage.MemoryClient
	clock      *testClock
	updates    *recordingUpdates
	deps       Deps
	reconciler *Reconciler
	groups     *GroupsUsecase
	chats      *ChatsUsecase
	auth       *AuthUsecase
}

func (s *UsecaseTestSuite) SetupTest() {
	s.logger, s.hook = test.NewNullLogger()
	s.logger.SetLevel(logrus.DebugLevel)
	s.store = storage.NewMemoryClient(s.logger)
	s.clock = &testClock{now: testNow}
	s.updates = &recordingUpdates{}
	s.deps = Deps{
		Bridge: bridge.New(s.store, bridge.Timeouts{
			Exists:     200 * time.Millisecond,
			Single:     300 * time.Millisecond,
			FanOut:     400 * time.Millisecond,
			LongFanOut: 500 * time.Millisecond,
		}, s.logger),
		Updates: s.updates,
		Effects: NewEffects(s.logger),
		Logger:  s.logger,
		Clock:   s.clock.Now,
	}
	s.reconciler = NewReconciler(s.deps)
	s.groups = NewGroupsUsecase(s.deps, GroupsConfig{}, s.reconciler)
	s.chats = NewChatsUsecase(s.deps, s.groups)
	s.auth = NewAuthUsecase(s.deps)
}

func (s *UsecaseTestSuite) TearDownTest() {
	s.settle()
}

// settle waits for background effects and in-flight store operations.
func (s *UsecaseTestSuite) settle() {
	s.deps.Effects.Wait()
	s.store.Wait()
}

func (s *UsecaseTestSuite) seedUser(id, username string) {
	require.NoError(s.T(), s.store.Seed("users/"+id, map[string]interface{}{
		"userId":   id,
		"username": username,
		"email":    id + "@example.com",
	}))
}

func (s *UsecaseTestSuite) peek(path string) interface{} {
	v, _ := s.store.Peek(path)
	return v
}

func (s *UsecaseTestSuite) peekRecord(path string) map[string]interface{} {
	r, _ := s.peek(path).(map[string]interface{})
	return r
}

// newTeamAlpha creates "Team Alpha" owned by u1 with members u2 and u3.
func (s *UsecaseTestSuite) newTeamAlpha() *models.Group {
	g := s.groups.CreateGroup(bg(), models.GroupCreate{
		Name:      "Team Alpha",
		CreatorID: "u1",
		Members:   []string{"u1", "u2", "u3"},
	})
	require.NotNil(s.T(), g)
	s.settle()
	return g
}

func (s *UsecaseTestSuite) loggedAt(level logrus.Level, msg string) bool {
	for _, e := range s.hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

func ofType[T any](events []interface{}) []T {
	out := make([]T, 0)
	for _, e := range events {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

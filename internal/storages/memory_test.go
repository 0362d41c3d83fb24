package storage

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MemoryClientTestSuite struct {
	suite.Suite
	store *MemoryClient
}

func (s *MemoryClientTestSuite) SetupTest() {
	logger, _ := test.NewNullLogger()
	s.store = NewMemoryClient(logger)
}

func TestMemoryClientTestSuite(t *testing.T) {
	suite.Run(t, &MemoryClientTestSuite{})
}

func (s *MemoryClientTestSuite) write(path string, value interface{}) error {
	done := make(chan error, 1)
	s.store.Write(path, value, func(err error) { done <- err })
	return <-done
}

func (s *MemoryClientTestSuite) update(path string, fields map[string]interface{}) error {
	done := make(chan error, 1)
	s.store.UpdateFields(path, fields, func(err error) { done <- err })
	return <-done
}

func (s *MemoryClientTestSuite) read(path string) Snapshot {
	done := make(chan Snapshot, 1)
	s.store.ReadOnce(path, func(snap Snapshot) { done <- snap })
	return <-done
}

func (s *MemoryClientTestSuite) Test_WriteThenRead() {
	err := s.write("groups/team_alpha", map[string]interface{}{
		"groupName":  "Team Alpha",
		"members":    []string{"u1", "u2"},
		"maxMembers": 10,
	})
	require.NoError(s.T(), err)

	snap := s.read("groups/team_alpha")
	require.NoError(s.T(), snap.Err)
	assert.True(s.T(), snap.Exists)
	assert.Equal(s.T(), "team_alpha", snap.Key)
	assert.Equal(s.T(), map[string]interface{}{
		"groupName":  "Team Alpha",
		"members":    []interface{}{"u1", "u2"},
		"maxMembers": float64(10),
	}, snap.Value, "values should come back normalized")

	leaf := s.read("groups/team_alpha/groupName")
	assert.Equal(s.T(), "Team Alpha", leaf.Value)
}

func (s *MemoryClientTestSuite) Test_ReadMissing() {
	snap := s.read("groups/nope")
	assert.NoError(s.T(), snap.Err)
	assert.False(s.T(), snap.Exists)
	assert.Nil(s.T(), snap.Value)
}

func (s *MemoryClientTestSuite) Test_InvalidPath() {
	assert.ErrorIs(s.T(), s.write("groups/a.b", true), ErrInvalidPath)
	assert.ErrorIs(s.T(), s.write("groups//b", true), ErrInvalidPath)
	assert.ErrorIs(s.T(), s.read("").Err, ErrInvalidPath)
}

func (s *MemoryClientTestSuite) Test_UpdateFieldsNestedAndDelete() {
	require.NoError(s.T(), s.write("chats/c1", map[string]interface{}{
		"chatId":      "c1",
		"unreadCount": map[string]interface{}{"u1": 1, "u2": 3},
	}))

	require.NoError(s.T(), s.update("chats/c1", map[string]interface{}{
		"unreadCount/u2": 0,
		"lastMessage":    "hello",
		"unreadCount/u1": nil,
	}))

	snap := s.read("chats/c1")
	assert.Equal(s.T(), map[string]interface{}{
		"chatId":      "c1",
		"lastMessage": "hello",
		"unreadCount": map[string]interface{}{"u2": float64(0)},
	}, snap.Value)
}

func (s *MemoryClientTestSuite) Test_DeletePrunesEmptyParents() {
	require.NoError(s.T(), s.write("userChats/u1/c1", true))

	done := make(chan error, 1)
	s.store.Delete("userChats/u1/c1", func(err error) { done <- err })
	require.NoError(s.T(), <-done)

	_, ok := s.store.Peek("userChats/u1")
	assert.False(s.T(), ok)
	_, ok = s.store.Peek("userChats")
	assert.False(s.T(), ok)
}

func (s *MemoryClientTestSuite) Test_QueryByChildEquals() {
	require.NoError(s.T(), s.store.Seed("groups", map[string]interface{}{
		"b": map[string]interface{}{"inviteCode": "AAAA1111", "isPublic": true},
		"a": map[string]interface{}{"inviteCode": "AAAA1111", "isPublic": false},
		"c": map[string]interface{}{"inviteCode": "BBBB2222", "isPublic": true},
	}))

	done := make(chan []Snapshot, 1)
	s.store.QueryByChildEquals("groups", "inviteCode", "AAAA1111", func(snaps []Snapshot, err error) {
		require.NoError(s.T(), err)
		done <- snaps
	})
	snaps := <-done
	require.Len(s.T(), snaps, 2)
	assert.Equal(s.T(), "a", snaps[0].Key, "results should be ordered by key")
	assert.Equal(s.T(), "b", snaps[1].Key)

	s.store.QueryByChildEquals("groups", "isPublic", true, func(snaps []Snapshot, err error) {
		require.NoError(s.T(), err)
		done <- snaps
	})
	keys := []string{}
	for _, snap := range <-done {
		keys = append(keys, snap.Key)
	}
	assert.Equal(s.T(), []string{"b", "c"}, keys)
}

func (s *MemoryClientTestSuite) Test_FaultInjection() {
	boom := errors.New("boom")
	s.store.FailPath("chats", boom)

	assert.ErrorIs(s.T(), s.write("chats/c1", true), boom)
	assert.NoError(s.T(), s.write("groups/g1", true))
	assert.NoError(s.T(), s.update("userChats/u1", map[string]interface{}{"c1": true}))
	assert.ErrorIs(s.T(), s.read("chats/c1").Err, boom)

	s.store.FailPath("chats", nil)
	assert.NoError(s.T(), s.write("chats/c1", true))
}

func (s *MemoryClientTestSuite) Test_LatencyDoesNotRetractWrite() {
	s.store.DelayPath("slow", 50*time.Millisecond)

	done := make(chan error, 1)
	s.store.Write("slow/key", "v", func(err error) { done <- err })

	_, ok := s.store.Peek("slow/key")
	assert.False(s.T(), ok, "write should not be applied yet")

	s.store.Wait()
	v, ok := s.store.Peek("slow/key")
	assert.True(s.T(), ok)
	assert.Equal(s.T(), "v", v)
	assert.NoError(s.T(), <-done)
}

func (s *MemoryClientTestSuite) Test_Subscribe() {
	var mu sync.Mutex
	seen := []interface{}{}
	got := make(chan struct{}, 10)

	sub := s.store.Subscribe("chats/c1/lastMessage", func(snap Snapshot) {
		mu.Lock()
		seen = append(seen, snap.Value)
		mu.Unlock()
		got <- struct{}{}
	})

	<-got // initial value
	require.NoError(s.T(), s.write("chats/c1", map[string]interface{}{"lastMessage": "one"}))
	<-got
	require.NoError(s.T(), s.update("chats/c1", map[string]interface{}{"lastMessage": "two"}))
	<-got
	require.NoError(s.T(), s.write("groups/g1", true))

	sub.Cancel()
	require.NoError(s.T(), s.write("chats/c1/lastMessage", "three"))
	s.store.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(s.T(), []interface{}{nil, "one", "two"}, seen)
	assert.Equal(s.T(), 0, s.store.hub.Len())
}

func (s *MemoryClientTestSuite) Test_CompletionsAreAsynchronous() {
	var mu sync.Mutex
	mu.Lock()
	done := make(chan error, 1)
	// The callback can only run if it is not on this goroutine.
	s.store.Write("a/b", 1, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		done <- err
	})
	mu.Unlock()
	assert.NoError(s.T(), <-done)
}

func TestPushKeysAreOrderedAndUnique(t *testing.T) {
	keys := make([]string, 200)
	for i := range keys {
		keys[i] = NewPushKey()
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	assert.Equal(t, keys, sorted)

	seen := map[string]bool{}
	for _, k := range keys {
		assert.False(t, seen[k])
		seen[k] = true
		_, err := SplitPath("messages/c1/" + k)
		assert.NoError(t, err)
	}
}

func TestNormalizePrunesEmptyMaps(t *testing.T) {
	v, err := Normalize(map[string]interface{}{
		"a": map[string]interface{}{},
		"b": 1,
		"c": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"b": float64(1)}, v)

	v, err = Normalize(map[string]interface{}{"a": map[string]interface{}{}})
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Normalize(make(chan int))
	assert.ErrorIs(t, err, ErrInvalidValue)
}

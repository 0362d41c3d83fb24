package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	storage "github.com/practice-sem-2/group-chat-service/internal/storages"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type BridgeTestSuite struct {
	suite.Suite
	store  *storage.MemoryClient
	bridge *Bridge
	hook   *test.Hook
}

func (s *BridgeTestSuite) SetupTest() {
	logger, hook := test.NewNullLogger()
	s.hook = hook
	s.store = storage.NewMemoryClient(logger)
	s.bridge = New(s.store, Timeouts{
		Exists:     50 * time.Millisecond,
		Single:     100 * time.Millisecond,
		FanOut:     150 * time.Millisecond,
		LongFanOut: 200 * time.Millisecond,
	}, logger)
}

func (s *BridgeTestSuite) TearDownTest() {
	s.store.Wait()
}

func TestBridgeTestSuite(t *testing.T) {
	suite.Run(t, &BridgeTestSuite{})
}

func (s *BridgeTestSuite) Test_WriteAndRead() {
	ctx := context.Background()
	require.NoError(s.T(), s.bridge.Write(ctx, "groups/g1", map[string]interface{}{"groupName": "G"}))

	exists, err := s.bridge.Exists(ctx, "groups/g1")
	assert.NoError(s.T(), err)
	assert.True(s.T(), exists)

	r, err := s.bridge.ReadRecord(ctx, "groups/g1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "G", r["groupName"])

	_, err = s.bridge.ReadRecord(ctx, "groups/none")
	assert.ErrorIs(s.T(), err, ErrNotFound)

	exists, err = s.bridge.Exists(ctx, "groups/none")
	assert.NoError(s.T(), err)
	assert.False(s.T(), exists)
}

func (s *BridgeTestSuite) Test_ReadTimesOut() {
	require.NoError(s.T(), s.store.Seed("groups/g1", map[string]interface{}{"a": 1}))
	s.store.DelayPath("groups", 300*time.Millisecond)

	start := time.Now()
	_, err := s.bridge.Read(context.Background(), "groups/g1")
	assert.ErrorIs(s.T(), err, ErrTimeout)
	assert.Less(s.T(), time.Since(start), 300*time.Millisecond)

	exists, err := s.bridge.Exists(context.Background(), "groups/g1")
	assert.ErrorIs(s.T(), err, ErrTimeout)
	assert.False(s.T(), exists)
}

func (s *BridgeTestSuite) Test_TimedOutWriteStillApplies() {
	s.store.DelayPath("slow", 200*time.Millisecond)

	err := s.bridge.Write(context.Background(), "slow/k", "v")
	assert.ErrorIs(s.T(), err, ErrTimeout)

	s.store.Wait()
	v, ok := s.store.Peek("slow/k")
	assert.True(s.T(), ok, "abandoned wait must not retract the write")
	assert.Equal(s.T(), "v", v)
}

func (s *BridgeTestSuite) Test_StoreErrorIsReturned() {
	boom := errors.New("permission denied")
	s.store.FailPath("chats", boom)

	assert.ErrorIs(s.T(), s.bridge.Update(context.Background(), "chats/c1", map[string]interface{}{"x": 1}), boom)
	assert.ErrorIs(s.T(), s.bridge.Delete(context.Background(), "chats/c1"), boom)
	_, err := s.bridge.Read(context.Background(), "chats/c1")
	assert.ErrorIs(s.T(), err, boom)
}

func (s *BridgeTestSuite) Test_FanOutCollectsPerOpResults() {
	boom := errors.New("boom")
	s.store.FailPath("chats", boom)
	s.store.DelayPath("slow", 400*time.Millisecond)

	errs := s.bridge.FanOut(context.Background(), s.bridge.Timeouts().FanOut,
		s.bridge.WriteOp("groups/g1", true),
		s.bridge.WriteOp("chats/g1", true),
		s.bridge.WriteOp("slow/g1", true),
	)

	require.Len(s.T(), errs, 3)
	assert.NoError(s.T(), errs[0])
	assert.ErrorIs(s.T(), errs[1], boom)
	assert.ErrorIs(s.T(), errs[2], ErrTimeout)

	_, ok := s.store.Peek("groups/g1")
	assert.True(s.T(), ok, "first write stays applied even though another failed")
}

func (s *BridgeTestSuite) Test_FanOutWithoutOps() {
	assert.Empty(s.T(), s.bridge.FanOut(context.Background(), time.Millisecond))
}

func (s *BridgeTestSuite) Test_ReadMany() {
	require.NoError(s.T(), s.store.Seed("chats/a", map[string]interface{}{"chatId": "a"}))
	require.NoError(s.T(), s.store.Seed("chats/b", map[string]interface{}{"chatId": "b"}))
	s.store.DelayPath("chats/b", 400*time.Millisecond)

	snaps := s.bridge.ReadMany(context.Background(), s.bridge.Timeouts().LongFanOut, "chats/a", "chats/b", "chats/c")
	require.Len(s.T(), snaps, 3)
	assert.True(s.T(), snaps[0].Exists)
	assert.ErrorIs(s.T(), snaps[1].Err, ErrTimeout)
	assert.False(s.T(), snaps[2].Exists)
	assert.NoError(s.T(), snaps[2].Err)
}

func (s *BridgeTestSuite) Test_Query() {
	require.NoError(s.T(), s.store.Seed("groups", map[string]interface{}{
		"g1": map[string]interface{}{"inviteCode": "ABCDEFGH"},
		"g2": map[string]interface{}{"inviteCode": "ZZZZZZZZ"},
	}))

	snaps, err := s.bridge.Query(context.Background(), "groups", "inviteCode", "ABCDEFGH")
	require.NoError(s.T(), err)
	require.Len(s.T(), snaps, 1)
	assert.Equal(s.T(), "g1", snaps[0].Key)
}

func (s *BridgeTestSuite) Test_CallerContextCancels() {
	s.store.DelayPath("groups", 300*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.bridge.Read(ctx, "groups/g1")
	assert.ErrorIs(s.T(), err, ErrTimeout)
}

func TestFutureFirstCompletionWins(t *testing.T) {
	f := NewFuture[int]()

	var wg sync.WaitGroup
	wins := make(chan int, 10)
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if f.Complete(v) {
				wins <- v
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	require.Len(t, wins, 1)
	winner := <-wins
	v, ok := f.Wait(context.Background())
	assert.True(t, ok)
	assert.Equal(t, winner, v)
}

func TestFutureWaitTimesOut(t *testing.T) {
	f := NewFuture[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	v, ok := f.Wait(ctx)
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestLatch(t *testing.T) {
	l := NewLatch(3)
	l.CountDown()
	l.CountDown()
	assert.Equal(t, 1, l.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.False(t, l.Wait(ctx))

	l.CountDown()
	l.CountDown()
	assert.Equal(t, 0, l.Count())
	assert.True(t, l.Wait(context.Background()))
	assert.True(t, NewLatch(0).Wait(context.Background()))
}

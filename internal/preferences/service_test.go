package preferences

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/practice-sem-2/group-chat-service/internal/bridge"
	"github.com/practice-sem-2/group-chat-service/internal/models"
	storage "github.com/practice-sem-2/group-chat-service/internal/storages"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ServiceTestSuite struct {
	suite.Suite
	store   *storage.MemoryClient
	cache   *MemoryBackend
	bridge  *bridge.Bridge
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, &ServiceTestSuite{})
}

func (s *ServiceTestSuite) SetupTest() {
	logger, _ := test.NewNullLogger()
	s.store = storage.NewMemoryClient(logger)
	s.cache = NewMemoryBackend(time.Minute)
	s.bridge = bridge.New(s.store, bridge.Timeouts{
		Exists:     100 * time.Millisecond,
		Single:     200 * time.Millisecond,
		FanOut:     300 * time.Millisecond,
		LongFanOut: 400 * time.Millisecond,
	}, logger)
	s.service = NewService(s.bridge, s.cache, logger)
}

func (s *ServiceTestSuite) TearDownTest() {
	s.store.Wait()
}

func (s *ServiceTestSuite) Test_GetCreatesDefaults() {
	got := s.service.Get(context.Background(), "u1")
	require.NotNil(s.T(), got)
	assert.Equal(s.T(), models.DefaultSettings(), got)

	stored, ok := s.store.Peek("userSettings/u1")
	require.True(s.T(), ok)
	assert.Equal(s.T(), "light", stored.(map[string]interface{})["theme"])
	assert.Equal(s.T(), 1, s.cache.Len())
}

func (s *ServiceTestSuite) Test_GetServesFromCache() {
	require.NoError(s.T(), s.store.Seed("userSettings/u1", map[string]interface{}{"theme": "dark"}))
	first := s.service.Get(context.Background(), "u1")
	require.NotNil(s.T(), first)
	assert.Equal(s.T(), "dark", first.Theme)
	assert.Equal(s.T(), "en", first.Language, "missing keys fall back to defaults")

	s.store.FailPath("userSettings", errors.New("offline"))
	second := s.service.Get(context.Background(), "u1")
	require.NotNil(s.T(), second)
	assert.Equal(s.T(), "dark", second.Theme)

	first.Theme = "mutated"
	assert.Equal(s.T(), "dark", s.service.Get(context.Background(), "u1").Theme)
}

func (s *ServiceTestSuite) Test_GetStoreFailure() {
	s.store.FailPath("userSettings/u1", errors.New("offline"))

	assert.Nil(s.T(), s.service.Get(context.Background(), "u1"))
	assert.Equal(s.T(), 0, s.cache.Len())
	assert.Nil(s.T(), s.service.Get(context.Background(), ""))
}

func (s *ServiceTestSuite) Test_SaveIsWriteThrough() {
	settings := models.DefaultSettings()
	settings.FontSize = 20
	require.True(s.T(), s.service.Save(context.Background(), "u1", settings))

	stored, _ := s.store.Peek("userSettings/u1/fontSize")
	assert.Equal(s.T(), float64(20), stored)

	s.store.FailPath("userSettings", errors.New("offline"))
	assert.Equal(s.T(), int64(20), s.service.Get(context.Background(), "u1").FontSize)
}

func (s *ServiceTestSuite) Test_SaveFailureLeavesCacheAlone() {
	require.NotNil(s.T(), s.service.Get(context.Background(), "u1"))
	s.store.FailPath("userSettings/u1", errors.New("denied"))

	settings := models.DefaultSettings()
	settings.Theme = "dark"
	assert.False(s.T(), s.service.Save(context.Background(), "u1", settings))
	assert.Equal(s.T(), "light", s.service.Get(context.Background(), "u1").Theme)
	assert.False(s.T(), s.service.Save(context.Background(), "u1", nil))
}

func (s *ServiceTestSuite) Test_UpdateInvalidates() {
	require.NotNil(s.T(), s.service.Get(context.Background(), "u1"))
	require.Equal(s.T(), 1, s.cache.Len())

	require.True(s.T(), s.service.Update(context.Background(), "u1", "theme", "dark"))
	assert.Equal(s.T(), 0, s.cache.Len())
	assert.Equal(s.T(), "dark", s.service.Get(context.Background(), "u1").Theme)

	require.True(s.T(), s.service.Update(context.Background(), "u1", "fontSize", 16))
	assert.Equal(s.T(), int64(16), s.service.Get(context.Background(), "u1").FontSize)
}

func (s *ServiceTestSuite) Test_UpdateRejections() {
	require.NotNil(s.T(), s.service.Get(context.Background(), "u1"))

	assert.False(s.T(), s.service.Update(context.Background(), "u1", "passwordHash", "x"))
	assert.False(s.T(), s.service.Update(context.Background(), "u1", "theme", 3))
	assert.False(s.T(), s.service.Update(context.Background(), "u1", "soundEnabled", "yes"))
	assert.Equal(s.T(), 1, s.cache.Len(), "rejected updates keep the cache")

	s.store.FailPath("userSettings/u1/theme", errors.New("denied"))
	assert.False(s.T(), s.service.Update(context.Background(), "u1", "theme", "dark"))
	assert.Equal(s.T(), 0, s.cache.Len(), "a failed write still drops the entry")
}

// hookedBackend runs beforePut once, ahead of the first cache write.
type hookedBackend struct {
	*MemoryBackend
	beforePut func()
}

func (b *hookedBackend) Put(ctx context.Context, userID string, settings *models.Settings) error {
	if f := b.beforePut; f != nil {
		b.beforePut = nil
		f()
	}
	return b.MemoryBackend.Put(ctx, userID, settings)
}

func (s *ServiceTestSuite) Test_UpdateDuringReadThroughIsNotMasked() {
	require.NoError(s.T(), s.store.Seed("userSettings/u1", map[string]interface{}{"theme": "light"}))
	logger, _ := test.NewNullLogger()
	backend := &hookedBackend{MemoryBackend: s.cache}
	service := NewService(s.bridge, backend, logger)
	backend.beforePut = func() {
		require.True(s.T(), service.Update(context.Background(), "u1", "theme", "dark"))
	}

	first := service.Get(context.Background(), "u1")
	require.NotNil(s.T(), first)
	assert.Equal(s.T(), "light", first.Theme)
	assert.Equal(s.T(), 0, s.cache.Len(), "the copy loaded before the update is not cached")

	second := service.Get(context.Background(), "u1")
	require.NotNil(s.T(), second)
	assert.Equal(s.T(), "dark", second.Theme)
}

func (s *ServiceTestSuite) Test_SaveDuringReadThroughWins() {
	require.NoError(s.T(), s.store.Seed("userSettings/u1", map[string]interface{}{"theme": "light"}))
	logger, _ := test.NewNullLogger()
	backend := &hookedBackend{MemoryBackend: s.cache}
	service := NewService(s.bridge, backend, logger)
	backend.beforePut = func() {
		settings := models.DefaultSettings()
		settings.Theme = "dark"
		require.True(s.T(), service.Save(context.Background(), "u1", settings))
	}

	require.NotNil(s.T(), service.Get(context.Background(), "u1"))
	assert.Equal(s.T(), "dark", service.Get(context.Background(), "u1").Theme)
}

package preferences

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/practice-sem-2/group-chat-service/internal/bridge"
	"github.com/practice-sem-2/group-chat-service/internal/models"
	usecase "github.com/practice-sem-2/group-chat-service/internal/usecases"
	"github.com/sirupsen/logrus"
)

var ErrUnknownField = errors.New("unknown settings field")

// Service serves user settings through the cache. The store is
// authoritative: writes go to the store first and reach the cache only
// once confirmed.
type Service struct {
	bridge *bridge.Bridge
	cache  Backend
	logger *logrus.Logger

	// gens counts store writes per user so a read-through can tell that
	// the copy it loaded may have been overtaken before reaching the cache.
	mu   sync.Mutex
	gens map[string]uint64
}

func NewService(b *bridge.Bridge, cache Backend, logger *logrus.Logger) *Service {
	return &Service{
		bridge: b,
		cache:  cache,
		logger: logger,
		gens:   make(map[string]uint64),
	}
}

// Get returns the user's settings, reading through to the store on a miss.
// A user without stored settings gets the defaults, which are persisted.
func (s *Service) Get(ctx context.Context, userID string) *models.Settings {
	if userID == "" {
		return nil
	}
	fields := logrus.Fields{"user_id": userID}

	cached, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cached
	}
	if !errors.Is(err, ErrMiss) {
		s.logger.WithFields(fields).WithError(err).Warn("settings cache read failed")
	}

	gen := s.generation(userID)
	settings, err := s.load(ctx, userID)
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Error("can't load settings")
		return nil
	}
	s.put(ctx, userID, settings)
	if s.generation(userID) != gen {
		s.logger.WithFields(fields).Debug("settings changed during read-through")
		s.invalidate(ctx, userID)
	}
	return settings.Clone()
}

func (s *Service) load(ctx context.Context, userID string) (*models.Settings, error) {
	r, err := s.bridge.ReadRecord(ctx, usecase.SettingsPath(userID))
	if err == nil {
		return models.SettingsFromRecord(r), nil
	}
	if !errors.Is(err, bridge.ErrNotFound) {
		return nil, err
	}

	settings := models.DefaultSettings()
	if err := s.bridge.Write(ctx, usecase.SettingsPath(userID), settings.ToRecord()); err != nil {
		return nil, fmt.Errorf("can't persist default settings: %w", err)
	}
	return settings, nil
}

// Save replaces the stored settings and then refreshes the cache.
func (s *Service) Save(ctx context.Context, userID string, settings *models.Settings) bool {
	fields := logrus.Fields{"user_id": userID}
	if userID == "" || settings == nil {
		s.logger.WithFields(fields).Info("save settings rejected")
		return false
	}
	if err := s.bridge.Write(ctx, usecase.SettingsPath(userID), settings.ToRecord()); err != nil {
		s.logger.WithFields(fields).WithError(err).Error("save settings failed")
		return false
	}
	s.bump(userID)
	s.put(ctx, userID, settings)
	return true
}

// Update changes one field in the store. The user's cache entry is dropped
// whatever the outcome, since a timed-out write may still land.
func (s *Service) Update(ctx context.Context, userID, field string, value interface{}) bool {
	fields := logrus.Fields{"user_id": userID, "field": field}
	if err := checkField(field, value); err != nil {
		s.logger.WithFields(fields).WithError(err).Info("update settings rejected")
		return false
	}

	err := s.bridge.Update(ctx, usecase.SettingsPath(userID), map[string]interface{}{field: value})
	s.bump(userID)
	s.invalidate(ctx, userID)
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Error("update settings failed")
		return false
	}
	return true
}

func (s *Service) generation(userID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[userID]
}

// bump must run after the store write and before the cache is touched.
func (s *Service) bump(userID string) {
	s.mu.Lock()
	s.gens[userID]++
	s.mu.Unlock()
}

func (s *Service) put(ctx context.Context, userID string, settings *models.Settings) {
	if err := s.cache.Put(ctx, userID, settings); err != nil {
		s.logger.WithField("user_id", userID).WithError(err).Warn("settings cache write failed")
	}
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.WithField("user_id", userID).WithError(err).Warn("settings cache invalidation failed")
	}
}

// checkField accepts a value only for a known field and of the same kind
// as that field's default.
func checkField(field string, value interface{}) error {
	if !models.SettingsFields[field] {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	ok := false
	switch models.DefaultSettings().ToRecord()[field].(type) {
	case string:
		_, ok = value.(string)
	case bool:
		_, ok = value.(bool)
	case int64:
		switch value.(type) {
		case int, int32, int64, float64:
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("value of type %T does not fit %q", value, field)
	}
	return nil
}

package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/practice-sem-2/group-chat-service/internal/bridge"
	"github.com/practice-sem-2/group-chat-service/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const PasswordResetTTL = time.Hour

type AuthUsecase struct {
	base
	hashCost int
}

func NewAuthUsecase(d Deps) *AuthUsecase {
	return &AuthUsecase{
		base:     newBase(d),
		hashCost: bcrypt.DefaultCost,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// findByEmail returns the first user record with this email and its key.
func (u *AuthUsecase) findByEmail(ctx context.Context, email string) (string, models.Record, error) {
	snaps, err := u.bridge.Query(ctx, usersRoot, "email", email)
	if err != nil {
		return "", nil, err
	}
	if len(snaps) == 0 {
		return "", nil, ErrUserNotFound
	}
	return snaps[0].Key, snaps[0].Record(), nil
}

// Register stores a new user with a bcrypt password hash. The email check
// is a query before the write, so two concurrent registrations with one
// email may both pass.
func (u *AuthUsecase) Register(ctx context.Context, user models.User, password string) bool {
	user.Email = normalizeEmail(user.Email)
	user.Username = strings.TrimSpace(user.Username)
	fields := logrus.Fields{"email": user.Email, "username": user.Username}

	if err := u.register(ctx, &user, password); err != nil {
		u.fail("register", fields, err)
		return false
	}

	u.effects.Go("default settings", fields, func(ctx context.Context) error {
		return u.bridge.Write(ctx, SettingsPath(user.UserID), models.DefaultSettings().ToRecord())
	})
	u.logger.WithFields(fields).WithField("user_id", user.UserID).Info("user registered")
	return true
}

func (u *AuthUsecase) register(ctx context.Context, user *models.User, password string) error {
	if err := u.validate.Struct(user); err != nil {
		return fmt.Errorf("%w: %v", ErrBusinessLogicViolation, err)
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}

	_, _, err := u.findByEmail(ctx, user.Email)
	if err == nil {
		return ErrEmailTaken
	}
	if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	exists, err := u.bridge.Exists(ctx, userPath(user.UserID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: user id is taken", ErrBusinessLogicViolation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), u.hashCost)
	if err != nil {
		return fmt.Errorf("can't hash password: %w", err)
	}

	now := u.now()
	user.CreatedAt = now
	user.LastSeen = now
	user.Online = false
	record := user.ToRecord()
	record["passwordHash"] = string(hash)
	if err := u.bridge.Write(ctx, userPath(user.UserID), record); err != nil {
		return fmt.Errorf("can't store user: %w", err)
	}
	return nil
}

// Login checks the password and marks the user online. Presence is
// written in the background.
func (u *AuthUsecase) Login(ctx context.Context, email, password string) *models.User {
	email = normalizeEmail(email)
	fields := logrus.Fields{"email": email}

	key, record, err := u.findByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		err = ErrInvalidCredentials
	}
	if err != nil {
		u.fail("login", fields, err)
		return nil
	}
	hash := models.PasswordHashFromRecord(record)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		u.fail("login", fields, ErrInvalidCredentials)
		return nil
	}

	user := models.UserFromRecord(record)
	if user.UserID == "" {
		user.UserID = key
	}
	user.Online = true
	user.LastSeen = u.now()
	u.effects.Go("presence", fields, func(ctx context.Context) error {
		return u.setPresence(ctx, user.UserID, true, user.LastSeen)
	})
	return user
}

func (u *AuthUsecase) Logout(ctx context.Context, userID string) bool {
	if err := u.setPresence(ctx, userID, false, u.now()); err != nil {
		u.fail("logout", logrus.Fields{"user_id": userID}, err)
		return false
	}
	return true
}

func (u *AuthUsecase) setPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	return u.bridge.Update(ctx, userPath(userID), map[string]interface{}{
		"online":   online,
		"lastSeen": models.Millis(at),
	})
}

// ResetPassword records a reset request for the account. Delivering the
// reset key to the user is left to an outside mailer.
func (u *AuthUsecase) ResetPassword(ctx context.Context, email string) bool {
	email = normalizeEmail(email)
	fields := logrus.Fields{"email": email}

	key, record, err := u.findByEmail(ctx, email)
	if err != nil {
		u.fail("reset password", fields, err)
		return false
	}
	userID := models.UserFromRecord(record).UserID
	if userID == "" {
		userID = key
	}

	resetKey := uuid.NewString()
	now := u.now()
	err = u.bridge.Write(ctx, passwordResetPath(resetKey), map[string]interface{}{
		"userId":    userID,
		"email":     email,
		"createdAt": models.Millis(now),
		"expiresAt": models.Millis(now.Add(PasswordResetTTL)),
		"used":      false,
	})
	if err != nil {
		u.fail("reset password", fields, err)
		return false
	}
	u.logger.WithFields(fields).WithField("user_id", userID).Info("password reset requested")
	return true
}

// ConfirmPasswordReset sets a new password using an unexpired, unused
// reset key.
func (u *AuthUsecase) ConfirmPasswordReset(ctx context.Context, resetKey, password string) bool {
	fields := logrus.Fields{"reset_key": resetKey}
	if err := u.confirmReset(ctx, resetKey, password); err != nil {
		u.fail("confirm password reset", fields, err)
		return false
	}
	return true
}

func (u *AuthUsecase) confirmReset(ctx context.Context, resetKey, password string) error {
	if !ValidateUUID(resetKey) {
		return fmt.Errorf("%w: malformed reset key", ErrBusinessLogicViolation)
	}
	reset, err := u.bridge.ReadRecord(ctx, passwordResetPath(resetKey))
	if errors.Is(err, bridge.ErrNotFound) {
		return fmt.Errorf("%w: reset request", ErrNotFound)
	}
	if err != nil {
		return err
	}

	used, _ := reset["used"].(bool)
	expires, _ := reset["expiresAt"].(float64)
	if used || u.now().After(models.FromMillis(int64(expires))) {
		return fmt.Errorf("%w: reset key expired or used", ErrBusinessLogicViolation)
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), u.hashCost)
	if err != nil {
		return fmt.Errorf("can't hash password: %w", err)
	}

	userID, _ := reset["userId"].(string)
	if err := u.bridge.Update(ctx, userPath(userID), map[string]interface{}{"passwordHash": string(hash)}); err != nil {
		return err
	}
	return u.bridge.Update(ctx, passwordResetPath(resetKey), map[string]interface{}{"used": true})
}

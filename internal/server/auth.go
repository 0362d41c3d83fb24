package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/practice-sem-2/group-chat-service/internal/models"
	"google.golang.org/protobuf/types/known/structpb"
)

// Register assigns a fresh user id when the request carries none.
func (s *GroupChatServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r registerRequest
	if err := s.decode(req, &r); err != nil {
		return nil, wrapError(err)
	}
	if r.UserID == "" {
		r.UserID = uuid.NewString()
	}
	user := models.User{
		UserID:   r.UserID,
		Username: r.Username,
		Email:    r.Email,
	}
	if !s.auth.Register(ctx, user, r.Password) {
		return nil, wrapError(rejected("register"))
	}
	return respond(map[string]interface{}{"userId": r.UserID})
}

func (s *GroupChatServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r loginRequest
	if err := s.decode(req, &r); err != nil {
		return nil, wrapError(err)
	}
	user := s.auth.Login(ctx, r.Email, r.Password)
	if user == nil {
		return nil, wrapError(ErrBadCredentials)
	}
	return respond(map[string]interface{}{"user": userRecord(user)})
}

func (s *GroupChatServer) Logout(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := actor(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	if !s.auth.Logout(ctx, userID) {
		return nil, wrapError(rejected("logout"))
	}
	return done()
}

// ResetPassword answers the same way whether or not the email is known.
func (s *GroupChatServer) ResetPassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r resetPasswordRequest
	if err := s.decode(req, &r); err != nil {
		return nil, wrapError(err)
	}
	s.auth.ResetPassword(ctx, r.Email)
	return done()
}

func (s *GroupChatServer) ConfirmPasswordReset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r confirmResetRequest
	if err := s.decode(req, &r); err != nil {
		return nil, wrapError(err)
	}
	if !s.auth.ConfirmPasswordReset(ctx, r.ResetKey, r.Password) {
		return nil, wrapError(rejected("confirm password reset"))
	}
	return done()
}

func (s *GroupChatServer) GetSettings(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := actor(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	settings := s.prefs.Get(ctx, userID)
	if settings == nil {
		return nil, wrapError(ErrUnavailable)
	}
	return respond(map[string]interface{}{"settings": settings.ToRecord()})
}

func (s *GroupChatServer) SaveSettings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r saveSettingsRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.prefs.Save(ctx, userID, r.Settings) {
		return nil, wrapError(rejected("save settings"))
	}
	return done()
}

func (s *GroupChatServer) UpdateSetting(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r updateSettingRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if r.Value == nil {
		return nil, wrapError(fmt.Errorf("%w: value is required", ErrInvalidRequest))
	}
	if !s.prefs.Update(ctx, userID, r.Field, r.Value) {
		return nil, wrapError(rejected("update setting"))
	}
	return done()
}

package usecases

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied       = errors.New("user is not authorized to this action")
	ErrAuthenticationRequired = fmt.Errorf("%w: authentication required", ErrPermissionDenied)
	ErrUserIsNotAGroupMember  = fmt.Errorf("%w: user is not a group member", ErrPermissionDenied)
	ErrUserIsNotAChatMember   = fmt.Errorf("%w: user is not a chat member", ErrPermissionDenied)
	ErrBusinessLogicViolation = errors.New("business logic violation")
	ErrGroupExists            = fmt.Errorf("%w: group with this name already exists", ErrBusinessLogicViolation)
	ErrGroupInactive          = fmt.Errorf("%w: group was deleted", ErrBusinessLogicViolation)
	ErrEmailTaken             = fmt.Errorf("%w: email is already registered", ErrBusinessLogicViolation)
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrNotFound               = errors.New("not found")
	ErrGroupNotFound          = fmt.Errorf("%w: group", ErrNotFound)
	ErrChatNotFound           = fmt.Errorf("%w: chat", ErrNotFound)
	ErrMessageNotFound        = fmt.Errorf("%w: message", ErrNotFound)
	ErrUserNotFound           = fmt.Errorf("%w: user", ErrNotFound)
)

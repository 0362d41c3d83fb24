package models

import "time"

type UpdateMeta struct {
	Timestamp time.Time
	Audience  []string
}

type MessageSent struct {
	UpdateMeta
	MessageID string `validate:"required"`
	FromUser  string `validate:"required"`
	ChatID    string `validate:"required"`
	Text      string
	Type      MessageType
	ReplyTo   *string
}

type GroupCreated struct {
	UpdateMeta
	GroupID   string `validate:"required"`
	GroupName string `validate:"required"`
	CreatedBy string `validate:"required"`
	Members   []string
}

type ChatCreated struct {
	UpdateMeta
	ChatID  string `validate:"required"`
	IsGroup bool
	Members []string
}

type MemberAdded struct {
	UpdateMeta
	ChatID   string `validate:"required"`
	Username string `validate:"required"`
	AddedBy  string
}

type MemberRemoved struct {
	UpdateMeta
	ChatID    string `validate:"required"`
	Username  string `validate:"required"`
	RemovedBy string
}

type RoleChanged struct {
	UpdateMeta
	GroupID   string `validate:"required"`
	Username  string `validate:"required"`
	Role      Role
	ChangedBy string
}

type GroupDeleted struct {
	UpdateMeta
	GroupID   string `validate:"required"`
	DeletedBy string
}

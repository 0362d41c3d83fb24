package models

import (
	"crypto/rand"
	"io"
	"strings"
	"time"
	"unicode"
)

const (
	DefaultMaxMembers = 256
	InviteCodeLength  = 8
	MaxGroupIDLength  = 50

	inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	groupIDPrefix  = "group_"
)

type Role int

const (
	RoleNone Role = iota
	RoleMember
	RoleAdmin
	RoleCreator
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleAdmin:
		return "admin"
	case RoleCreator:
		return "creator"
	default:
		return "none"
	}
}

type GroupSettings struct {
	OnlyAdminsCanAdd     bool `json:"onlyAdminsCanAdd"`
	OnlyAdminsCanMessage bool `json:"onlyAdminsCanMessage"`
	AllowInvites         bool `json:"allowInvites"`
	MembersVisible       bool `json:"membersVisible"`
	AllowFileSharing     bool `json:"allowFileSharing"`
}

func DefaultGroupSettings() GroupSettings {
	return GroupSettings{
		AllowInvites:     true,
		MembersVisible:   true,
		AllowFileSharing: true,
	}
}

// Group is the aggregate root for a named community. Every mutating method
// is authorized against the acting user and reports failure with false,
// leaving the group untouched.
type Group struct {
	GroupID      string        `json:"groupId"`
	GroupName    string        `json:"groupName"`
	Description  string        `json:"description"`
	CreatedBy    string        `json:"createdBy"`
	CreatedAt    time.Time     `json:"createdAt"`
	Members      []string      `json:"members"`
	Admins       []string      `json:"admins"`
	Settings     GroupSettings `json:"settings"`
	MaxMembers   int           `json:"maxMembers"`
	IsPublic     bool          `json:"isPublic"`
	InviteCode   string        `json:"inviteCode"`
	IsActive     bool          `json:"isActive"`
	LastActivity time.Time     `json:"lastActivity"`
}

// GroupCreate is a request to create a group. Members may repeat the
// creator; duplicates are ignored.
type GroupCreate struct {
	Name        string   `validate:"required,max=100"`
	Description string   `validate:"max=500"`
	CreatorID   string   `validate:"required"`
	Members     []string `validate:"dive,required"`
	IsPublic    bool
	MaxMembers  int `validate:"gte=0"`
}

// NewGroup builds a fresh group with the creator as its first member and admin.
func NewGroup(groupID, name, description, creatorID string, now time.Time, inviteCode string) *Group {
	return &Group{
		GroupID:      groupID,
		GroupName:    name,
		Description:  description,
		CreatedBy:    creatorID,
		CreatedAt:    now,
		Members:      []string{creatorID},
		Admins:       []string{creatorID},
		Settings:     DefaultGroupSettings(),
		MaxMembers:   DefaultMaxMembers,
		InviteCode:   inviteCode,
		IsActive:     true,
		LastActivity: now,
	}
}

func (g *Group) Clone() *Group {
	c := *g
	c.Members = append([]string(nil), g.Members...)
	c.Admins = append([]string(nil), g.Admins...)
	return &c
}

func (g *Group) IsMember(userID string) bool {
	return userID != "" && (userID == g.CreatedBy || contains(g.Members, userID))
}

// IsAdmin reports admin rights; the creator always has them.
func (g *Group) IsAdmin(userID string) bool {
	if userID == "" {
		return false
	}
	return userID == g.CreatedBy || (contains(g.Admins, userID) && contains(g.Members, userID))
}

func (g *Group) IsCreator(userID string) bool {
	return userID != "" && userID == g.CreatedBy
}

func (g *Group) RoleOf(userID string) Role {
	switch {
	case g.IsCreator(userID):
		return RoleCreator
	case g.IsAdmin(userID):
		return RoleAdmin
	case g.IsMember(userID):
		return RoleMember
	default:
		return RoleNone
	}
}

func (g *Group) IsFull() bool {
	return len(g.Members) >= g.MaxMembers
}

// AddMember adds newID on behalf of actingID. The actor must be a member
// (or be adding themself) and, with OnlyAdminsCanAdd set, an admin.
func (g *Group) AddMember(newID, actingID string) bool {
	if !g.IsActive || newID == "" || contains(g.Members, newID) || g.IsFull() {
		return false
	}
	if actingID != newID && !g.IsMember(actingID) {
		return false
	}
	if g.Settings.OnlyAdminsCanAdd && !g.IsAdmin(actingID) {
		return false
	}
	g.Members = append(g.Members, newID)
	return true
}

// Join adds userID as a self-join through an invite; it bypasses the
// OnlyAdminsCanAdd gate but not the capacity or invite settings.
func (g *Group) Join(userID string) bool {
	if !g.IsActive || !g.Settings.AllowInvites || userID == "" || contains(g.Members, userID) || g.IsFull() {
		return false
	}
	g.Members = append(g.Members, userID)
	return true
}

// RemoveMember removes id on behalf of actingID. Admins may remove anyone
// but the creator; everyone may remove themself except the creator.
func (g *Group) RemoveMember(id, actingID string) bool {
	if !g.IsActive || !contains(g.Members, id) || g.IsCreator(id) {
		return false
	}
	if actingID != id && !g.IsAdmin(actingID) {
		return false
	}
	g.Members = without(g.Members, id)
	g.Admins = without(g.Admins, id)
	return true
}

func (g *Group) PromoteToAdmin(id, actingID string) bool {
	if !g.IsActive || !g.IsAdmin(actingID) {
		return false
	}
	if !contains(g.Members, id) || g.IsAdmin(id) {
		return false
	}
	g.Admins = append(g.Admins, id)
	return true
}

func (g *Group) DemoteFromAdmin(id, actingID string) bool {
	if !g.IsActive || !g.IsAdmin(actingID) || g.IsCreator(id) {
		return false
	}
	if !contains(g.Admins, id) {
		return false
	}
	g.Admins = without(g.Admins, id)
	return true
}

func (g *Group) CanSendMessages(userID string) bool {
	if !g.IsActive || !g.IsMember(userID) {
		return false
	}
	if g.Settings.OnlyAdminsCanMessage {
		return g.IsAdmin(userID)
	}
	return true
}

func (g *Group) UpdateInfo(name, description, actingID string) bool {
	name = strings.TrimSpace(name)
	if !g.IsActive || name == "" || !g.IsAdmin(actingID) {
		return false
	}
	g.GroupName = name
	g.Description = strings.TrimSpace(description)
	return true
}

func (g *Group) UpdateSettings(settings GroupSettings, actingID string) bool {
	if !g.IsActive || !g.IsAdmin(actingID) {
		return false
	}
	g.Settings = settings
	return true
}

func (g *Group) SetInviteCode(code, actingID string) bool {
	if !g.IsActive || len(code) != InviteCodeLength || !g.IsAdmin(actingID) {
		return false
	}
	g.InviteCode = code
	return true
}

// Deactivate soft-deletes the group; only the creator may do it.
func (g *Group) Deactivate(actingID string) bool {
	if !g.IsActive || !g.IsCreator(actingID) {
		return false
	}
	g.IsActive = false
	return true
}

func (g *Group) Touch(now time.Time) {
	g.LastActivity = now
}

// GenerateInviteCode draws InviteCodeLength symbols uniformly from [A-Z0-9].
// A nil reader means crypto/rand.
func GenerateInviteCode(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	// 252 is the largest multiple of 36 below 256; larger bytes are rejected
	// to keep the distribution uniform.
	const limit = 252
	code := make([]byte, 0, InviteCodeLength)
	buf := make([]byte, InviteCodeLength*2)
	for len(code) < InviteCodeLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			code = append(code, inviteAlphabet[int(b)%len(inviteAlphabet)])
			if len(code) == InviteCodeLength {
				break
			}
		}
	}
	return string(code), nil
}

// SanitizeGroupID derives the stable group id from a display name.
func SanitizeGroupID(name string) string {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '.', '#', '$', '[', ']', '/':
			return -1
		}
		return r
	}, name)

	id := strings.ToLower(strings.Join(strings.Fields(stripped), "_"))
	if id == "" {
		return ""
	}

	runes := []rune(id)
	if len(runes) > MaxGroupIDLength {
		runes = runes[:MaxGroupIDLength]
	}
	if !unicode.IsLetter(runes[0]) {
		return groupIDPrefix + string(runes)
	}
	return string(runes)
}

func (s GroupSettings) ToRecord() Record {
	return Record{
		"onlyAdminsCanAdd":     s.OnlyAdminsCanAdd,
		"onlyAdminsCanMessage": s.OnlyAdminsCanMessage,
		"allowInvites":         s.AllowInvites,
		"membersVisible":       s.MembersVisible,
		"allowFileSharing":     s.AllowFileSharing,
	}
}

func GroupSettingsFromRecord(r Record) GroupSettings {
	def := DefaultGroupSettings()
	if r == nil {
		return def
	}
	return GroupSettings{
		OnlyAdminsCanAdd:     getBoolOr(r, "onlyAdminsCanAdd", def.OnlyAdminsCanAdd),
		OnlyAdminsCanMessage: getBoolOr(r, "onlyAdminsCanMessage", def.OnlyAdminsCanMessage),
		AllowInvites:         getBoolOr(r, "allowInvites", def.AllowInvites),
		MembersVisible:       getBoolOr(r, "membersVisible", def.MembersVisible),
		AllowFileSharing:     getBoolOr(r, "allowFileSharing", def.AllowFileSharing),
	}
}

func (g *Group) ToRecord() Record {
	return Record{
		"groupId":      g.GroupID,
		"groupName":    g.GroupName,
		"description":  g.Description,
		"createdBy":    g.CreatedBy,
		"createdAt":    Millis(g.CreatedAt),
		"members":      stringList(g.Members),
		"admins":       stringList(g.Admins),
		"settings":     g.Settings.ToRecord(),
		"maxMembers":   g.MaxMembers,
		"isPublic":     g.IsPublic,
		"inviteCode":   g.InviteCode,
		"isActive":     g.IsActive,
		"lastActivity": Millis(g.LastActivity),
	}
}

func GroupFromRecord(r Record) *Group {
	if r == nil {
		return nil
	}
	g := &Group{
		GroupID:      getString(r, "groupId"),
		GroupName:    getString(r, "groupName"),
		Description:  getString(r, "description"),
		CreatedBy:    getString(r, "createdBy"),
		CreatedAt:    getTime(r, "createdAt"),
		Members:      getStringList(r, "members"),
		Admins:       getStringList(r, "admins"),
		Settings:     GroupSettingsFromRecord(getRecord(r, "settings")),
		MaxMembers:   int(getInt64(r, "maxMembers")),
		IsPublic:     getBool(r, "isPublic"),
		InviteCode:   getString(r, "inviteCode"),
		IsActive:     getBoolOr(r, "isActive", true),
		LastActivity: getTime(r, "lastActivity"),
	}
	if g.MaxMembers <= 0 {
		g.MaxMembers = DefaultMaxMembers
	}
	return g
}

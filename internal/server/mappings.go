package server

import (
	"encoding/json"
	"fmt"

	"github.com/practice-sem-2/group-chat-service/internal/models"
	storage "github.com/practice-sem-2/group-chat-service/internal/storages"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type createGroupRequest struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Members     []string `json:"members" validate:"dive,required"`
	IsPublic    bool     `json:"isPublic"`
	MaxMembers  int      `json:"maxMembers" validate:"gte=0"`
}

type groupRequest struct {
	GroupID string `json:"groupId" validate:"required"`
}

type groupMembersRequest struct {
	GroupID string   `json:"groupId" validate:"required"`
	UserIDs []string `json:"userIds" validate:"required,min=1,dive,required"`
}

type groupMemberRequest struct {
	GroupID string `json:"groupId" validate:"required"`
	UserID  string `json:"userId" validate:"required"`
}

type inviteCodeRequest struct {
	InviteCode string `json:"inviteCode" validate:"required"`
}

type groupInfoRequest struct {
	GroupID     string `json:"groupId" validate:"required"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type groupSettingsRequest struct {
	GroupID  string             `json:"groupId" validate:"required"`
	Settings groupSettingsPatch `json:"settings"`
}

// groupSettingsPatch carries only the flags the caller sent.
type groupSettingsPatch struct {
	OnlyAdminsCanAdd     *bool `json:"onlyAdminsCanAdd"`
	OnlyAdminsCanMessage *bool `json:"onlyAdminsCanMessage"`
	AllowInvites         *bool `json:"allowInvites"`
	MembersVisible       *bool `json:"membersVisible"`
	AllowFileSharing     *bool `json:"allowFileSharing"`
}

func (p groupSettingsPatch) apply(settings models.GroupSettings) models.GroupSettings {
	for dst, src := range map[*bool]*bool{
		&settings.OnlyAdminsCanAdd:     p.OnlyAdminsCanAdd,
		&settings.OnlyAdminsCanMessage: p.OnlyAdminsCanMessage,
		&settings.AllowInvites:         p.AllowInvites,
		&settings.MembersVisible:       p.MembersVisible,
		&settings.AllowFileSharing:     p.AllowFileSharing,
	} {
		if src != nil {
			*dst = *src
		}
	}
	return settings
}

type searchGroupsRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit" validate:"gte=0,lte=200"`
}

type chatRequest struct {
	ChatID string `json:"chatId" validate:"required"`
}

type createChatRequest struct {
	OtherID string `json:"otherId" validate:"required"`
}

type createGroupChatRequest struct {
	Name         string   `json:"name" validate:"required,max=100"`
	Participants []string `json:"participants" validate:"required,min=1,dive,required"`
}

type chatMemberRequest struct {
	ChatID string `json:"chatId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

type attachmentBody struct {
	URL      string `json:"url" validate:"required,url"`
	Name     string `json:"name" validate:"required"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size" validate:"gte=0"`
}

type sendMessageRequest struct {
	ChatID     string          `json:"chatId" validate:"required"`
	Content    string          `json:"content"`
	Type       string          `json:"type"`
	ReplyTo    *string         `json:"replyTo"`
	Attachment *attachmentBody `json:"attachment"`
}

type loadMessagesRequest struct {
	ChatID string `json:"chatId" validate:"required"`
	Limit  int    `json:"limit" validate:"gte=0"`
}

type messageRequest struct {
	ChatID    string `json:"chatId" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
}

type editMessageRequest struct {
	ChatID    string `json:"chatId" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

type typingRequest struct {
	ChatID string `json:"chatId" validate:"required"`
	Typing bool   `json:"typing"`
}

type systemMessageRequest struct {
	ChatID  string `json:"chatId" validate:"required"`
	Content string `json:"content" validate:"required"`
}

type registerRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type resetPasswordRequest struct {
	Email string `json:"email" validate:"required"`
}

type confirmResetRequest struct {
	ResetKey string `json:"resetKey" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type saveSettingsRequest struct {
	Settings *models.Settings `json:"settings" validate:"required"`
}

type updateSettingRequest struct {
	Field string      `json:"field" validate:"required"`
	Value interface{} `json:"value"`
}

// decode fills dst from a Struct request and validates it.
func (s *GroupChatServer) decode(req *structpb.Struct, dst interface{}) error {
	raw, err := protojson.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err = json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err = s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// respond converts a record-shaped map to a Struct. Values go through the
// same JSON normalization the store applies, so only JSON types remain.
func respond(body map[string]interface{}) (*structpb.Struct, error) {
	normalized, err := storage.Normalize(body)
	if err != nil {
		return nil, wrapError(err)
	}
	fields, _ := normalized.(map[string]interface{})
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, wrapError(err)
	}
	return out, nil
}

func done() (*structpb.Struct, error) {
	return respond(map[string]interface{}{"ok": true})
}

func SendMessageToModel(senderID string, r *sendMessageRequest) models.MessageSend {
	send := models.MessageSend{
		ChatID:   r.ChatID,
		SenderID: senderID,
		Content:  r.Content,
		Type:     models.MessageType(r.Type),
		ReplyTo:  r.ReplyTo,
	}
	if r.Attachment != nil {
		send.Attachment = AttachmentToModel(r.Attachment)
	}
	return send
}

func AttachmentToModel(a *attachmentBody) *models.FileAttachment {
	return &models.FileAttachment{
		URL:      a.URL,
		Name:     a.Name,
		MimeType: a.MimeType,
		Size:     a.Size,
	}
}

func CreateGroupToModel(creatorID string, r *createGroupRequest) models.GroupCreate {
	return models.GroupCreate{
		Name:        r.Name,
		Description: r.Description,
		CreatorID:   creatorID,
		Members:     r.Members,
		IsPublic:    r.IsPublic,
		MaxMembers:  r.MaxMembers,
	}
}

func groupList(groups []*models.Group) []interface{} {
	out := make([]interface{}, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.ToRecord())
	}
	return out
}

func chatList(chats []*models.Chat) []interface{} {
	out := make([]interface{}, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatRecord(c))
	}
	return out
}

func chatRecord(c *models.Chat) models.Record {
	r := c.ToRecord()
	r["isGroupChat"] = c.IsGroupChat()
	return r
}

func messageList(messages []*models.Message) []interface{} {
	out := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ToRecord())
	}
	return out
}

func userRecord(u *models.User) models.Record {
	r := u.ToRecord()
	if u.Admin {
		r["admin"] = true
	}
	if u.Creator {
		r["creator"] = true
	}
	return r
}

func userList(users []*models.User) []interface{} {
	out := make([]interface{}, 0, len(users))
	for _, u := range users {
		out = append(out, userRecord(u))
	}
	return out
}

func stringValues(items []string) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, v := range items {
		out = append(out, v)
	}
	return out
}

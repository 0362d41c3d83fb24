package models

import (
	"strings"
	"time"
)

// SystemSenderID marks messages synthesized by the service itself.
const SystemSenderID = "system"

const DeletedMessageText = "This message was deleted"

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageVoice  MessageType = "voice"
	MessageVideo  MessageType = "video"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageVoice, MessageVideo, MessageSystem:
		return true
	}
	return false
}

type FileAttachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type Message struct {
	MessageID  string           `json:"messageId"`
	ChatID     string           `json:"chatId"`
	SenderID   string           `json:"senderId"`
	Content    string           `json:"content"`
	Timestamp  time.Time        `json:"timestamp"`
	Type       MessageType      `json:"type"`
	IsRead     bool             `json:"isRead"`
	IsEdited   bool             `json:"isEdited"`
	IsDeleted  bool             `json:"isDeleted"`
	ReadBy     map[string]int64 `json:"readBy"`
	ReplyTo    *string          `json:"replyTo,omitempty"`
	Attachment *FileAttachment  `json:"attachment,omitempty"`
}

// MessageSend is what a caller supplies to post a message.
type MessageSend struct {
	ChatID     string          `validate:"required"`
	SenderID   string          `validate:"required"`
	Content    string          `validate:"required_without=Attachment"`
	Type       MessageType     `validate:"omitempty,oneof=text image file voice video"`
	ReplyTo    *string         `validate:"omitempty"`
	Attachment *FileAttachment `validate:"omitempty"`
}

func NewMessage(id string, send MessageSend, now time.Time) *Message {
	t := send.Type
	if t == "" {
		t = MessageText
	}
	return &Message{
		MessageID:  id,
		ChatID:     send.ChatID,
		SenderID:   send.SenderID,
		Content:    send.Content,
		Timestamp:  now,
		Type:       t,
		ReadBy:     map[string]int64{send.SenderID: Millis(now)},
		ReplyTo:    send.ReplyTo,
		Attachment: send.Attachment,
	}
}

// NewSystemMessage builds a pre-read, immutable notice.
func NewSystemMessage(id, chatID, content string, now time.Time) *Message {
	return &Message{
		MessageID: id,
		ChatID:    chatID,
		SenderID:  SystemSenderID,
		Content:   content,
		Timestamp: now,
		Type:      MessageSystem,
		IsRead:    true,
		ReadBy:    map[string]int64{},
	}
}

func (m *Message) IsSystem() bool {
	return m.SenderID == SystemSenderID || m.Type == MessageSystem
}

func (m *Message) Edit(content, actingID string) bool {
	content = strings.TrimSpace(content)
	if m.IsSystem() || m.IsDeleted || m.SenderID != actingID || content == "" {
		return false
	}
	m.Content = content
	m.IsEdited = true
	return true
}

func (m *Message) SoftDelete(actingID string) bool {
	if m.IsSystem() || m.IsDeleted || m.SenderID != actingID {
		return false
	}
	m.IsDeleted = true
	m.Content = DeletedMessageText
	m.Attachment = nil
	return true
}

func (m *Message) MarkReadBy(userID string, now time.Time) bool {
	if userID == m.SenderID {
		return false
	}
	if _, ok := m.ReadBy[userID]; ok {
		return false
	}
	m.ReadBy[userID] = Millis(now)
	m.IsRead = true
	return true
}

// Preview is the text mirrored into a chat's last-message cache.
func (m *Message) Preview() string {
	if m.IsDeleted {
		return DeletedMessageText
	}
	switch m.Type {
	case MessageImage:
		return "📷 Image"
	case MessageFile:
		return "📎 File"
	case MessageVoice:
		return "🎤 Voice message"
	case MessageVideo:
		return "🎬 Video"
	}
	return m.Content
}

func (m *Message) ToRecord() Record {
	r := Record{
		"messageId": m.MessageID,
		"chatId":    m.ChatID,
		"senderId":  m.SenderID,
		"content":   m.Content,
		"timestamp": Millis(m.Timestamp),
		"type":      string(m.Type),
		"isRead":    m.IsRead,
		"isEdited":  m.IsEdited,
		"isDeleted": m.IsDeleted,
		"readBy":    int64Map(m.ReadBy),
	}
	if m.ReplyTo != nil {
		r["replyTo"] = *m.ReplyTo
	}
	if m.Attachment != nil {
		r["attachment"] = Record{
			"url":      m.Attachment.URL,
			"name":     m.Attachment.Name,
			"mimeType": m.Attachment.MimeType,
			"size":     m.Attachment.Size,
		}
	}
	return r
}

func MessageFromRecord(r Record) *Message {
	if r == nil {
		return nil
	}
	m := &Message{
		MessageID: getString(r, "messageId"),
		ChatID:    getString(r, "chatId"),
		SenderID:  getString(r, "senderId"),
		Content:   getString(r, "content"),
		Timestamp: getTime(r, "timestamp"),
		Type:      MessageType(getString(r, "type")),
		IsRead:    getBool(r, "isRead"),
		IsEdited:  getBool(r, "isEdited"),
		IsDeleted: getBool(r, "isDeleted"),
		ReadBy:    getInt64Map(r, "readBy"),
	}
	if !m.Type.Valid() {
		m.Type = MessageText
	}
	if reply, ok := r["replyTo"].(string); ok && reply != "" {
		m.ReplyTo = &reply
	}
	if a := getRecord(r, "attachment"); a != nil {
		m.Attachment = &FileAttachment{
			URL:      getString(a, "url"),
			Name:     getString(a, "name"),
			MimeType: getString(a, "mimeType"),
			Size:     getInt64(a, "size"),
		}
	}
	return m
}

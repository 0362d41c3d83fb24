package models

import (
	"sort"
	"time"
)

// Chat is the conversation surface. Group chats share their id with the
// Group they mirror; direct chats have exactly two participants.
type Chat struct {
	ChatID              string           `json:"chatId"`
	Participants        []string         `json:"participants"`
	ChatName            string           `json:"chatName"`
	CreatedBy           string           `json:"createdBy"`
	CreatedAt           time.Time        `json:"createdAt"`
	LastMessage         string           `json:"lastMessage"`
	LastMessageTime     time.Time        `json:"lastMessageTime"`
	LastMessageSenderID string           `json:"lastMessageSenderId"`
	UnreadCount         map[string]int64 `json:"unreadCount"`
	LastReadTime        map[string]int64 `json:"lastReadTime"`
	Typing              map[string]bool  `json:"typing"`
	IsActive            bool             `json:"isActive"`
}

func NewChat(chatID, name, creatorID string, participants []string, now time.Time) *Chat {
	c := &Chat{
		ChatID:       chatID,
		ChatName:     name,
		CreatedBy:    creatorID,
		CreatedAt:    now,
		UnreadCount:  map[string]int64{},
		LastReadTime: map[string]int64{},
		Typing:       map[string]bool{},
		IsActive:     true,
	}
	for _, p := range participants {
		c.AddParticipant(p)
	}
	return c
}

// DirectChatID is the same for (a, b) and (b, a).
func DirectChatID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "_" + ids[1]
}

func (c *Chat) IsGroupChat() bool {
	return len(c.Participants) > 2 || c.ChatName != ""
}

func (c *Chat) HasParticipant(userID string) bool {
	return userID != "" && contains(c.Participants, userID)
}

func (c *Chat) AddParticipant(userID string) bool {
	if userID == "" || contains(c.Participants, userID) {
		return false
	}
	c.Participants = append(c.Participants, userID)
	if _, ok := c.UnreadCount[userID]; !ok {
		c.UnreadCount[userID] = 0
	}
	return true
}

func (c *Chat) RemoveParticipant(userID string) bool {
	if !contains(c.Participants, userID) {
		return false
	}
	c.Participants = without(c.Participants, userID)
	delete(c.UnreadCount, userID)
	delete(c.LastReadTime, userID)
	delete(c.Typing, userID)
	return true
}

// SetParticipants replaces the participant list, keeping per-user state
// only for users that remain.
func (c *Chat) SetParticipants(ids []string) {
	keep := map[string]bool{}
	for _, id := range ids {
		keep[id] = true
	}
	for _, id := range c.Participants {
		if !keep[id] {
			delete(c.UnreadCount, id)
			delete(c.LastReadTime, id)
			delete(c.Typing, id)
		}
	}
	c.Participants = nil
	for _, id := range ids {
		c.AddParticipant(id)
	}
}

// IncrementUnread bumps every participant's counter except the sender's.
func (c *Chat) IncrementUnread(senderID string) {
	for _, p := range c.Participants {
		if p != senderID {
			c.UnreadCount[p]++
		}
	}
}

// ResetUnread clears the owner's counter; nobody else may do it.
func (c *Chat) ResetUnread(ownerID, actingID string, now time.Time) bool {
	if ownerID != actingID || !c.HasParticipant(ownerID) {
		return false
	}
	c.UnreadCount[ownerID] = 0
	c.LastReadTime[ownerID] = Millis(now)
	return true
}

func (c *Chat) Unread(userID string) int64 {
	if n := c.UnreadCount[userID]; n > 0 {
		return n
	}
	return 0
}

func (c *Chat) SetTyping(userID string, typing bool) bool {
	if !c.HasParticipant(userID) {
		return false
	}
	if typing {
		c.Typing[userID] = true
	} else {
		delete(c.Typing, userID)
	}
	return true
}

func (c *Chat) RecordLastMessage(m *Message) {
	c.LastMessage = m.Preview()
	c.LastMessageTime = m.Timestamp
	c.LastMessageSenderID = m.SenderID
}

func (c *Chat) ToRecord() Record {
	return Record{
		"chatId":              c.ChatID,
		"participants":        stringList(c.Participants),
		"chatName":            c.ChatName,
		"createdBy":           c.CreatedBy,
		"createdAt":           Millis(c.CreatedAt),
		"lastMessage":         c.LastMessage,
		"lastMessageTime":     Millis(c.LastMessageTime),
		"lastMessageSenderId": c.LastMessageSenderID,
		"unreadCount":         int64Map(c.UnreadCount),
		"lastReadTime":        int64Map(c.LastReadTime),
		"typing":              boolMap(c.Typing),
		"isActive":            c.IsActive,
	}
}

func ChatFromRecord(r Record) *Chat {
	if r == nil {
		return nil
	}
	c := &Chat{
		ChatID:              getString(r, "chatId"),
		Participants:        getStringList(r, "participants"),
		ChatName:            getString(r, "chatName"),
		CreatedBy:           getString(r, "createdBy"),
		CreatedAt:           getTime(r, "createdAt"),
		LastMessage:         getString(r, "lastMessage"),
		LastMessageTime:     getTime(r, "lastMessageTime"),
		LastMessageSenderID: getString(r, "lastMessageSenderId"),
		UnreadCount:         getInt64Map(r, "unreadCount"),
		LastReadTime:        getInt64Map(r, "lastReadTime"),
		Typing:              getBoolMap(r, "typing"),
		IsActive:            getBoolOr(r, "isActive", true),
	}
	for id, n := range c.UnreadCount {
		if n < 0 {
			c.UnreadCount[id] = 0
		}
	}
	return c
}

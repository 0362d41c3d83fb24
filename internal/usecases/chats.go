package usecases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/practice-sem-2/group-chat-service/internal/bridge"
	"github.com/practice-sem-2/group-chat-service/internal/models"
	storage "github.com/practice-sem-2/group-chat-service/internal/storages"
	"github.com/sirupsen/logrus"
)

const defaultMessagesLimit = 50

type ChatsUsecase struct {
	base
	groups *GroupsUsecase
}

func NewChatsUsecase(d Deps, groups *GroupsUsecase) *ChatsUsecase {
	return &ChatsUsecase{
		base:   newBase(d),
		groups: groups,
	}
}

// LoadUserChats lists the user's active chats, newest activity first.
func (u *ChatsUsecase) LoadUserChats(ctx context.Context, userID string) []*models.Chat {
	ids, err := u.indexedIDs(ctx, userChatsPath(userID))
	if err != nil {
		u.fail("load user chats", logrus.Fields{"user_id": userID}, err)
		return []*models.Chat{}
	}

	chats := make([]*models.Chat, 0, len(ids))
	for _, c := range u.loadChats(ctx, ids) {
		if c.IsActive && c.HasParticipant(userID) {
			chats = append(chats, c)
		}
	}
	sortChats(chats)
	return chats
}

func (u *ChatsUsecase) LoadChatByID(ctx context.Context, chatID, userID string) *models.Chat {
	fields := logrus.Fields{"chat_id": chatID, "user_id": userID}
	chat, err := u.loadChat(ctx, chatID)
	if err != nil {
		u.fail("load chat", fields, err)
		return nil
	}
	if !chat.HasParticipant(userID) {
		u.fail("load chat", fields, ErrUserIsNotAChatMember)
		return nil
	}
	return chat
}

// SendMessage stores the message and then, best-effort, bumps the other
// participants' unread counters and the chat's last-message cache. The
// counters are read back and rewritten, so a reset landing between that
// read and the write can still be lost.
func (u *ChatsUsecase) SendMessage(ctx context.Context, send models.MessageSend) *models.Message {
	fields := logrus.Fields{"chat_id": send.ChatID, "sender": send.SenderID}
	msg, chat, err := u.sendMessage(ctx, send)
	if err != nil {
		u.fail("send message", fields, err)
		return nil
	}

	meta := models.UpdateMeta{Timestamp: msg.Timestamp, Audience: append([]string(nil), chat.Participants...)}
	u.effects.Go("last message", fields, func(ctx context.Context) error {
		// Counters are absolute, so they are recomputed from the chat as it
		// is now rather than as it was when the send was checked.
		current, err := u.loadChat(ctx, chat.ChatID)
		if err != nil {
			return err
		}
		current.IncrementUnread(msg.SenderID)
		update := map[string]interface{}{
			"lastMessage":         msg.Preview(),
			"lastMessageTime":     models.Millis(msg.Timestamp),
			"lastMessageSenderId": msg.SenderID,
		}
		for _, p := range current.Participants {
			if p != msg.SenderID {
				update[storage.JoinPath("unreadCount", p)] = current.Unread(p)
			}
		}
		return u.bridge.Update(ctx, chatPath(chat.ChatID), update)
	})
	u.publish("message sent", fields, func() error {
		return u.updates.MessageSent(&models.MessageSent{
			UpdateMeta: meta,
			MessageID:  msg.MessageID,
			FromUser:   msg.SenderID,
			ChatID:     msg.ChatID,
			Text:       msg.Content,
			Type:       msg.Type,
			ReplyTo:    msg.ReplyTo,
		})
	})
	return msg
}

func (u *ChatsUsecase) sendMessage(ctx context.Context, send models.MessageSend) (*models.Message, *models.Chat, error) {
	if err := u.validate.Struct(send); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBusinessLogicViolation, err)
	}
	if send.SenderID == models.SystemSenderID {
		return nil, nil, fmt.Errorf("%w: reserved sender id", ErrPermissionDenied)
	}

	chat, err := u.loadChat(ctx, send.ChatID)
	if err != nil {
		return nil, nil, err
	}
	if !chat.IsActive || !chat.HasParticipant(send.SenderID) {
		return nil, nil, ErrUserIsNotAChatMember
	}

	if chat.IsGroupChat() {
		g, err := u.loadGroup(ctx, chat.ChatID)
		switch {
		case err == nil:
			if !g.CanSendMessages(send.SenderID) {
				return nil, nil, fmt.Errorf("%w: only admins can post in this group", ErrPermissionDenied)
			}
			if send.Attachment != nil && !g.Settings.AllowFileSharing {
				return nil, nil, fmt.Errorf("%w: file sharing is disabled", ErrBusinessLogicViolation)
			}
		case !errors.Is(err, ErrGroupNotFound):
			return nil, nil, err
		}
	}

	if send.ReplyTo != nil {
		if _, err := u.loadMessage(ctx, send.ChatID, *send.ReplyTo); err != nil {
			return nil, nil, fmt.Errorf("%w: replied message must be in the same chat: %v", ErrBusinessLogicViolation, err)
		}
	}

	id := u.bridge.Store().PushNewKey(messagesPath(send.ChatID))
	msg := models.NewMessage(id, send, u.now())
	if err := u.bridge.Write(ctx, messagePath(send.ChatID, id), msg.ToRecord()); err != nil {
		return nil, nil, fmt.Errorf("can't store message: %w", err)
	}
	return msg, chat, nil
}

// CreateChat opens the direct chat between two users. The chat id is
// derived from both ids, so asking again returns the existing chat.
func (u *ChatsUsecase) CreateChat(ctx context.Context, userID, otherID string) *models.Chat {
	fields := logrus.Fields{"user_id": userID, "other": otherID}
	chat, created, err := u.createChat(ctx, userID, otherID)
	if err != nil {
		u.fail("create chat", fields, err)
		return nil
	}
	if !created {
		return chat
	}

	u.effects.Go("reverse index", fields, func(ctx context.Context) error {
		return u.index(ctx, chat.ChatID, false, userID, otherID)
	})
	meta := models.UpdateMeta{Timestamp: chat.CreatedAt, Audience: []string{userID, otherID}}
	u.publish("chat created", fields, func() error {
		return u.updates.ChatCreated(&models.ChatCreated{
			UpdateMeta: meta,
			ChatID:     chat.ChatID,
			Members:    []string{userID, otherID},
		})
	})
	return chat
}

func (u *ChatsUsecase) createChat(ctx context.Context, userID, otherID string) (*models.Chat, bool, error) {
	if userID == "" || otherID == "" || userID == otherID {
		return nil, false, fmt.Errorf("%w: direct chat needs two different users", ErrBusinessLogicViolation)
	}

	id := models.DirectChatID(userID, otherID)
	existing, err := u.loadChat(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrChatNotFound) {
		return nil, false, err
	}

	exists, err := u.bridge.Exists(ctx, userPath(otherID))
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, ErrUserNotFound
	}

	chat := models.NewChat(id, "", userID, []string{userID, otherID}, u.now())
	if err := u.bridge.Write(ctx, chatPath(id), chat.ToRecord()); err != nil {
		return nil, false, fmt.Errorf("can't create chat: %w", err)
	}
	return chat, true, nil
}

// CreateGroupChat creates a named chat that is not backed by a group.
func (u *ChatsUsecase) CreateGroupChat(ctx context.Context, name, creatorID string, participants []string) *models.Chat {
	fields := logrus.Fields{"chat_name": name, "creator": creatorID}
	name = strings.TrimSpace(name)
	if name == "" || creatorID == "" {
		u.fail("create group chat", fields, fmt.Errorf("%w: name and creator are required", ErrBusinessLogicViolation))
		return nil
	}

	id := u.bridge.Store().PushNewKey(chatsRoot)
	chat := models.NewChat(id, name, creatorID, append([]string{creatorID}, participants...), u.now())
	if len(chat.Participants) < 2 {
		u.fail("create group chat", fields, fmt.Errorf("%w: group chat needs at least two participants", ErrBusinessLogicViolation))
		return nil
	}
	if err := u.bridge.Write(ctx, chatPath(id), chat.ToRecord()); err != nil {
		u.fail("create group chat", fields, err)
		return nil
	}

	members := append([]string(nil), chat.Participants...)
	u.effects.Go("reverse index", fields, func(ctx context.Context) error {
		return u.index(ctx, id, false, members...)
	})
	u.announce(id, "%s created the chat", creatorID)
	meta := models.UpdateMeta{Timestamp: chat.CreatedAt, Audience: members}
	u.publish("chat created", fields, func() error {
		return u.updates.ChatCreated(&models.ChatCreated{
			UpdateMeta: meta,
			ChatID:     id,
			IsGroup:    true,
			Members:    members,
		})
	})
	return chat
}

// AddUserToGroup adds a participant to a group chat. When a group backs
// the chat the group rules apply; otherwise any participant may add.
func (u *ChatsUsecase) AddUserToGroup(ctx context.Context, chatID, userID, actingID string) bool {
	fields := logrus.Fields{"chat_id": chatID, "user_id": userID, "acting": actingID}
	backed, err := u.groups.groupBacksChat(ctx, chatID)
	if err != nil {
		u.fail("add user to group chat", fields, err)
		return false
	}
	if backed {
		return u.groups.AddMemberToGroup(ctx, chatID, userID, actingID)
	}

	chat, err := u.loadChat(ctx, chatID)
	if err != nil {
		u.fail("add user to group chat", fields, err)
		return false
	}
	if !chat.IsActive || !chat.IsGroupChat() || !chat.HasParticipant(actingID) {
		u.fail("add user to group chat", fields, ErrUserIsNotAChatMember)
		return false
	}
	if !chat.AddParticipant(userID) {
		u.fail("add user to group chat", fields, fmt.Errorf("%w: already a participant", ErrBusinessLogicViolation))
		return false
	}

	update := map[string]interface{}{"participants": chat.Participants}
	update[storage.JoinPath("unreadCount", userID)] = 0
	if err := u.bridge.Update(ctx, chatPath(chatID), update); err != nil {
		u.fail("add user to group chat", fields, err)
		return false
	}

	u.effects.Go("reverse index", fields, func(ctx context.Context) error {
		return u.index(ctx, chatID, false, userID)
	})
	u.announce(chatID, "%s added %s to the chat", actingID, userID)
	meta := models.UpdateMeta{Timestamp: u.now(), Audience: append([]string(nil), chat.Participants...)}
	u.publish("member added", fields, func() error {
		return u.updates.MemberAdded(&models.MemberAdded{
			UpdateMeta: meta,
			ChatID:     chatID,
			Username:   userID,
			AddedBy:    actingID,
		})
	})
	return true
}

// RemoveUserFromGroup removes a participant from a group chat. Without a
// backing group, participants may leave and the chat creator may remove
// others.
func (u *ChatsUsecase) RemoveUserFromGroup(ctx context.Context, chatID, userID, actingID string) bool {
	fields := logrus.Fields{"chat_id": chatID, "user_id": userID, "acting": actingID}
	backed, err := u.groups.groupBacksChat(ctx, chatID)
	if err != nil {
		u.fail("remove user from group chat", fields, err)
		return false
	}
	if backed {
		return u.groups.RemoveMemberFromGroup(ctx, chatID, userID, actingID)
	}

	chat, err := u.loadChat(ctx, chatID)
	if err != nil {
		u.fail("remove user from group chat", fields, err)
		return false
	}
	allowed := actingID == userID || (actingID == chat.CreatedBy && userID != chat.CreatedBy)
	if !chat.IsActive || !chat.IsGroupChat() || !chat.HasParticipant(actingID) || !allowed {
		u.fail("remove user from group chat", fields, ErrPermissionDenied)
		return false
	}
	if !chat.RemoveParticipant(userID) {
		u.fail("remove user from group chat", fields, ErrUserIsNotAChatMember)
		return false
	}

	update := map[string]interface{}{"participants": chat.Participants}
	for _, field := range []string{"unreadCount", "lastReadTime", "typing"} {
		update[storage.JoinPath(field, userID)] = nil
	}
	if err := u.bridge.Update(ctx, chatPath(chatID), update); err != nil {
		u.fail("remove user from group chat", fields, err)
		return false
	}

	u.effects.Go("reverse index", fields, func(ctx context.Context) error {
		return u.bridge.Delete(ctx, userChatPath(userID, chatID))
	})
	if userID == actingID {
		u.announce(chatID, "%s left the chat", userID)
	} else {
		u.announce(chatID, "%s removed %s from the chat", actingID, userID)
	}
	meta := models.UpdateMeta{Timestamp: u.now(), Audience: append(append([]string(nil), chat.Participants...), userID)}
	u.publish("member removed", fields, func() error {
		return u.updates.MemberRemoved(&models.MemberRemoved{
			UpdateMeta: meta,
			ChatID:     chatID,
			Username:   userID,
			RemovedBy:  actingID,
		})
	})
	return true
}

// LoadMessages returns the newest limit messages of the chat in time
// order. Only participants may read them.
func (u *ChatsUsecase) LoadMessages(ctx context.Context, chatID, userID string, limit int) []*models.Message {
	fields := logrus.Fields{"chat_id": chatID, "user_id": userID}
	msgs, err := u.loadMessages(ctx, chatID, userID)
	if err != nil {
		u.fail("load messages", fields, err)
		return []*models.Message{}
	}
	if limit <= 0 {
		limit = defaultMessagesLimit
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

func (u *ChatsUsecase) loadMessages(ctx context.Context, chatID, userID string) ([]*models.Message, error) {
	chat, err := u.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, ErrUserIsNotAChatMember
	}

	snap, err := u.bridge.Read(ctx, messagesPath(chatID))
	if err != nil {
		return nil, err
	}
	all := snap.Record()
	msgs := make([]*models.Message, 0, len(all))
	for _, key := range snap.Keys() {
		r, ok := all[key].(map[string]interface{})
		if !ok {
			continue
		}
		m := models.MessageFromRecord(r)
		if m.MessageID == "" {
			m.MessageID = key
		}
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].MessageID < msgs[j].MessageID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}

// MarkMessagesAsRead resets the user's own unread counter, then stamps the
// user's read time on messages from others in the background.
func (u *ChatsUsecase) MarkMessagesAsRead(ctx context.Context, chatID, userID string) bool {
	fields := logrus.Fields{"chat_id": chatID, "user_id": userID}
	chat, err := u.loadChat(ctx, chatID)
	if err != nil {
		u.fail("mark messages as read", fields, err)
		return false
	}
	now := u.now()
	if !chat.ResetUnread(userID, userID, now) {
		u.fail("mark messages as read", fields, ErrUserIsNotAChatMember)
		return false
	}
	err = u.bridge.Update(ctx, chatPath(chatID), map[string]interface{}{
		storage.JoinPath("unreadCount", userID):  0,
		storage.JoinPath("lastReadTime", userID): models.Millis(now),
	})
	if err != nil {
		u.fail("mark messages as read", fields, err)
		return false
	}

	u.effects.Go("read receipts", fields, func(ctx context.Context) error {
		msgs, err := u.loadMessages(ctx, chatID, userID)
		if err != nil {
			return err
		}
		ops := make([]bridge.Op, 0)
		for _, m := range msgs {
			if m.IsSystem() || !m.MarkReadBy(userID, now) {
				continue
			}
			update := map[string]interface{}{"isRead": true}
			update[storage.JoinPath("readBy", userID)] = models.Millis(now)
			ops = append(ops, u.bridge.UpdateOp(messagePath(chatID, m.MessageID), update))
		}
		return firstError(u.bridge.FanOut(ctx, u.bridge.Timeouts().LongFanOut, ops...))
	})
	return true
}

// DeleteMessage soft-deletes a message; only its sender may do it.
func (u *ChatsUsecase) DeleteMessage(ctx context.Context, chatID, messageID, actingID string) bool {
	fields := logrus.Fields{"chat_id": chatID, "message_id": messageID, "acting": actingID}
	m, err := u.loadMessage(ctx, chatID, messageID)
	if err != nil {
		u.fail("delete message", fields, err)
		return false
	}
	if !m.SoftDelete(actingID) {
		u.fail("delete message", fields, ErrPermissionDenied)
		return false
	}
	err = u.bridge.Update(ctx, messagePath(chatID, messageID), map[string]interface{}{
		"isDeleted":  true,
		"content":    m.Content,
		"attachment": nil,
	})
	if err != nil {
		u.fail("delete message", fields, err)
		return false
	}

	u.effects.Go("last message", fields, func(ctx context.Context) error {
		chat, err := u.loadChat(ctx, chatID)
		if err != nil {
			return err
		}
		if chat.LastMessageSenderID != m.SenderID || !chat.LastMessageTime.Equal(m.Timestamp) {
			return nil
		}
		return u.recordLastMessage(ctx, m)
	})
	return true
}

// EditMessage replaces the content of the sender's own message.
func (u *ChatsUsecase) EditMessage(ctx context.Context, chatID, messageID, content, actingID string) bool {
	fields := logrus.Fields{"chat_id": chatID, "message_id": messageID, "acting": actingID}
	m, err := u.loadMessage(ctx, chatID, messageID)
	if err != nil {
		u.fail("edit message", fields, err)
		return false
	}
	if !m.Edit(content, actingID) {
		u.fail("edit message", fields, ErrPermissionDenied)
		return false
	}
	err = u.bridge.Update(ctx, messagePath(chatID, messageID), map[string]interface{}{
		"content":  m.Content,
		"isEdited": true,
	})
	if err != nil {
		u.fail("edit message", fields, err)
		return false
	}
	return true
}

func (u *ChatsUsecase) SetTyping(ctx context.Context, chatID, userID string, typing bool) bool {
	fields := logrus.Fields{"chat_id": chatID, "user_id": userID}
	chat, err := u.loadChat(ctx, chatID)
	if err != nil {
		u.fail("set typing", fields, err)
		return false
	}
	if !chat.SetTyping(userID, typing) {
		u.fail("set typing", fields, ErrUserIsNotAChatMember)
		return false
	}
	var value interface{}
	if typing {
		value = true
	}
	if err := u.bridge.Update(ctx, chatPath(chatID), map[string]interface{}{storage.JoinPath("typing", userID): value}); err != nil {
		u.fail("set typing", fields, err)
		return false
	}
	return true
}

// SendSystemMessage posts a notice into the chat. The message write
// decides the outcome; the last-message cache follows best-effort.
func (u *ChatsUsecase) SendSystemMessage(ctx context.Context, chatID, content string) *models.Message {
	fields := logrus.Fields{"chat_id": chatID}
	content = strings.TrimSpace(content)
	if chatID == "" || content == "" {
		u.fail("send system message", fields, fmt.Errorf("%w: empty system message", ErrBusinessLogicViolation))
		return nil
	}

	id := u.bridge.Store().PushNewKey(messagesPath(chatID))
	msg := models.NewSystemMessage(id, chatID, content, u.now())
	if err := u.bridge.Write(ctx, messagePath(chatID, id), msg.ToRecord()); err != nil {
		u.fail("send system message", fields, err)
		return nil
	}
	u.effects.Go("last message", fields, func(ctx context.Context) error {
		return u.recordLastMessage(ctx, msg)
	})
	return msg
}

// SubscribeChat calls onChange with the chat's current state and again on
// every change, until the subscription is cancelled. Deliveries where the
// chat is missing or the user is no longer a participant pass nil.
func (u *ChatsUsecase) SubscribeChat(chatID, userID string, onChange func(*models.Chat)) storage.Subscription {
	return u.bridge.Store().Subscribe(chatPath(chatID), func(snap storage.Snapshot) {
		if snap.Err != nil {
			u.logger.WithField("chat_id", chatID).WithError(snap.Err).Warn("chat subscription error")
			return
		}
		chat := models.ChatFromRecord(snap.Record())
		if chat != nil && !chat.HasParticipant(userID) {
			chat = nil
		}
		if chat != nil && chat.ChatID == "" {
			chat.ChatID = chatID
		}
		onChange(chat)
	})
}

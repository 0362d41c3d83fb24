package usecases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/practice-sem-2/group-chat-service/internal/bridge"
	"github.com/practice-sem-2/group-chat-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Updates receives membership and message events for delivery to clients.
type Updates interface {
	GroupCreated(g *models.GroupCreated) error
	ChatCreated(chat *models.ChatCreated) error
	MessageSent(msg *models.MessageSent) error
	MemberAdded(member *models.MemberAdded) error
	MemberRemoved(member *models.MemberRemoved) error
	RoleChanged(r *models.RoleChanged) error
	GroupDeleted(g *models.GroupDeleted) error
}

// Deps is shared by every usecase of one process.
type Deps struct {
	Bridge   *bridge.Bridge
	Updates  Updates
	Effects  *Effects
	Validate *validator.Validate
	Logger   *logrus.Logger
	Clock    func() time.Time
}

type base struct {
	bridge   *bridge.Bridge
	updates  Updates
	effects  *Effects
	validate *validator.Validate
	logger   *logrus.Logger
	clock    func() time.Time
}

func newBase(d Deps) base {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Validate == nil {
		d.Validate = validator.New()
	}
	if d.Effects == nil {
		d.Effects = NewEffects(d.Logger)
	}
	return base{
		bridge:   d.Bridge,
		updates:  d.Updates,
		effects:  d.Effects,
		validate: d.Validate,
		logger:   d.Logger,
		clock:    d.Clock,
	}
}

func (b *base) now() time.Time {
	return b.clock().UTC()
}

// fail logs err at the service boundary; the caller then returns its
// sentinel value.
func (b *base) fail(op string, fields logrus.Fields, err error) {
	entry := b.logger.WithFields(fields).WithError(err)
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrBusinessLogicViolation) || errors.Is(err, ErrNotFound) {
		entry.Infof("%s rejected", op)
		return
	}
	entry.Errorf("%s failed", op)
}

func (b *base) loadGroup(ctx context.Context, groupID string) (*models.Group, error) {
	r, err := b.bridge.ReadRecord(ctx, groupPath(groupID))
	if errors.Is(err, bridge.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("can't load group: %w", err)
	}
	g := models.GroupFromRecord(r)
	if g.GroupID == "" {
		g.GroupID = groupID
	}
	return g, nil
}

func (b *base) loadChat(ctx context.Context, chatID string) (*models.Chat, error) {
	r, err := b.bridge.ReadRecord(ctx, chatPath(chatID))
	if errors.Is(err, bridge.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("can't load chat: %w", err)
	}
	c := models.ChatFromRecord(r)
	if c.ChatID == "" {
		c.ChatID = chatID
	}
	return c, nil
}

func (b *base) loadMessage(ctx context.Context, chatID, messageID string) (*models.Message, error) {
	r, err := b.bridge.ReadRecord(ctx, messagePath(chatID, messageID))
	if errors.Is(err, bridge.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("can't load message: %w", err)
	}
	m := models.MessageFromRecord(r)
	if m.MessageID == "" {
		m.MessageID = messageID
	}
	if m.ChatID == "" {
		m.ChatID = chatID
	}
	return m, nil
}

// loadChats reads every listed chat with the long fan-out timeout. Chats
// that are missing, unreadable or timed out are skipped.
func (b *base) loadChats(ctx context.Context, ids []string) []*models.Chat {
	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = chatPath(id)
	}
	snaps := b.bridge.ReadMany(ctx, b.bridge.Timeouts().LongFanOut, paths...)
	chats := make([]*models.Chat, 0, len(snaps))
	for i, snap := range snaps {
		if snap.Err != nil {
			b.logger.WithField("chat_id", ids[i]).WithError(snap.Err).Warn("chat skipped while listing")
			continue
		}
		if r := snap.Record(); r != nil {
			c := models.ChatFromRecord(r)
			if c.ChatID == "" {
				c.ChatID = ids[i]
			}
			chats = append(chats, c)
		}
	}
	return chats
}

// displayName resolves the name used in system messages, falling back to
// the id when the profile can't be read.
func (b *base) displayName(ctx context.Context, userID string) string {
	r, err := b.bridge.ReadRecord(ctx, userPath(userID))
	if err != nil {
		return userID
	}
	if u := models.UserFromRecord(r); u.Username != "" {
		return u.Username
	}
	return userID
}

// postSystemMessage stores a system notice and mirrors it into the chat's
// last-message cache.
func (b *base) postSystemMessage(ctx context.Context, chatID, content string) (*models.Message, error) {
	id := b.bridge.Store().PushNewKey(messagesPath(chatID))
	msg := models.NewSystemMessage(id, chatID, content, b.now())
	if err := b.bridge.Write(ctx, messagePath(chatID, id), msg.ToRecord()); err != nil {
		return nil, fmt.Errorf("can't store system message: %w", err)
	}
	return msg, b.recordLastMessage(ctx, msg)
}

func (b *base) recordLastMessage(ctx context.Context, msg *models.Message) error {
	err := b.bridge.Update(ctx, chatPath(msg.ChatID), map[string]interface{}{
		"lastMessage":         msg.Preview(),
		"lastMessageTime":     models.Millis(msg.Timestamp),
		"lastMessageSenderId": msg.SenderID,
	})
	if err != nil {
		return fmt.Errorf("can't update last message: %w", err)
	}
	return nil
}

// announce posts a system message built from display names in the
// background.
func (b *base) announce(chatID string, format string, userIDs ...string) {
	b.effects.Go("system message", logrus.Fields{"chat_id": chatID}, func(ctx context.Context) error {
		names := make([]interface{}, len(userIDs))
		for i, id := range userIDs {
			names[i] = b.displayName(ctx, id)
		}
		_, err := b.postSystemMessage(ctx, chatID, fmt.Sprintf(format, names...))
		return err
	})
}

// index writes the reverse index entries of users for one group chat.
func (b *base) index(ctx context.Context, chatID string, isGroup bool, userIDs ...string) error {
	ops := make([]bridge.Op, 0, len(userIDs)*2)
	for _, id := range userIDs {
		ops = append(ops, b.bridge.WriteOp(userChatPath(id, chatID), true))
		if isGroup {
			ops = append(ops, b.bridge.WriteOp(userGroupPath(id, chatID), true))
		}
	}
	return firstError(b.bridge.FanOut(ctx, b.bridge.Timeouts().FanOut, ops...))
}

func (b *base) unindex(ctx context.Context, chatID string, userIDs ...string) error {
	ops := make([]bridge.Op, 0, len(userIDs)*2)
	for _, id := range userIDs {
		ops = append(ops,
			b.bridge.DeleteOp(userChatPath(id, chatID)),
			b.bridge.DeleteOp(userGroupPath(id, chatID)),
		)
	}
	return firstError(b.bridge.FanOut(ctx, b.bridge.Timeouts().FanOut, ops...))
}

func (b *base) publish(name string, fields logrus.Fields, fn func() error) {
	b.effects.Go(name+" update", fields, func(context.Context) error {
		return fn()
	})
}

// indexedIDs lists the child keys under a reverse index path.
func (b *base) indexedIDs(ctx context.Context, path string) ([]string, error) {
	snap, err := b.bridge.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return snap.Keys(), nil
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func sortChats(chats []*models.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		ti, tj := chats[i].LastMessageTime, chats[j].LastMessageTime
		if ti.IsZero() {
			ti = chats[i].CreatedAt
		}
		if tj.IsZero() {
			tj = chats[j].CreatedAt
		}
		return ti.After(tj)
	})
}

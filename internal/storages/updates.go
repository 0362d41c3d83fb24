package storage

import (
	"time"

	"github.com/Shopify/sarama"
	"github.com/practice-sem-2/group-chat-service/internal/models"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	UpdateGroupCreated  = "group_created"
	UpdateChatCreated   = "chat_created"
	UpdateMessageSent   = "message_sent"
	UpdateMemberAdded   = "member_added"
	UpdateMemberRemoved = "member_removed"
	UpdateRoleChanged   = "role_changed"
	UpdateGroupDeleted  = "group_deleted"
)

// UpdatesStorage publishes membership and message updates to Kafka, keyed
// by chat id so one chat's updates stay ordered within a partition.
type UpdatesStorage struct {
	cfg      *UpdatesStoreConfig
	producer sarama.SyncProducer
}

type UpdatesStoreConfig struct {
	UpdatesTopic string
}

func NewUpdatesStore(p sarama.SyncProducer, cfg *UpdatesStoreConfig) *UpdatesStorage {
	return &UpdatesStorage{
		producer: p,
		cfg:      cfg,
	}
}

func (s *UpdatesStorage) putUpdate(topic, key string, event *structpb.Struct) error {
	bytes, err := proto.Marshal(event)
	if err != nil {
		return err
	}

	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(bytes),
		Timestamp: time.Time{},
	})

	return err
}

func audience(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func envelope(kind string, meta models.UpdateMeta, body map[string]interface{}) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"type": kind,
		"meta": map[string]interface{}{
			"timestamp": meta.Timestamp.UTC().Unix(),
			"audience":  audience(meta.Audience),
		},
		"update": body,
	})
}

func (s *UpdatesStorage) groupCreatedToProtobuf(g *models.GroupCreated) (*structpb.Struct, error) {
	return envelope(UpdateGroupCreated, g.UpdateMeta, map[string]interface{}{
		"group_id":   g.GroupID,
		"group_name": g.GroupName,
		"created_by": g.CreatedBy,
		"members":    audience(g.Members),
	})
}

func (s *UpdatesStorage) chatCreatedToProtobuf(chat *models.ChatCreated) (*structpb.Struct, error) {
	return envelope(UpdateChatCreated, chat.UpdateMeta, map[string]interface{}{
		"chat_id":  chat.ChatID,
		"is_group": chat.IsGroup,
		"members":  audience(chat.Members),
	})
}

func (s *UpdatesStorage) messageSentToProtobuf(msg *models.MessageSent) (*structpb.Struct, error) {
	body := map[string]interface{}{
		"message_id": msg.MessageID,
		"from_user":  msg.FromUser,
		"chat_id":    msg.ChatID,
		"text":       msg.Text,
		"type":       string(msg.Type),
	}
	if msg.ReplyTo != nil {
		body["reply_to"] = *msg.ReplyTo
	}
	return envelope(UpdateMessageSent, msg.UpdateMeta, body)
}

func (s *UpdatesStorage) memberAddedToProtobuf(member *models.MemberAdded) (*structpb.Struct, error) {
	return envelope(UpdateMemberAdded, member.UpdateMeta, map[string]interface{}{
		"chat_id":  member.ChatID,
		"username": member.Username,
		"added_by": member.AddedBy,
	})
}

func (s *UpdatesStorage) memberRemovedToProtobuf(member *models.MemberRemoved) (*structpb.Struct, error) {
	return envelope(UpdateMemberRemoved, member.UpdateMeta, map[string]interface{}{
		"chat_id":    member.ChatID,
		"username":   member.Username,
		"removed_by": member.RemovedBy,
	})
}

func (s *UpdatesStorage) roleChangedToProtobuf(r *models.RoleChanged) (*structpb.Struct, error) {
	return envelope(UpdateRoleChanged, r.UpdateMeta, map[string]interface{}{
		"group_id":   r.GroupID,
		"username":   r.Username,
		"role":       r.Role.String(),
		"changed_by": r.ChangedBy,
	})
}

func (s *UpdatesStorage) groupDeletedToProtobuf(g *models.GroupDeleted) (*structpb.Struct, error) {
	return envelope(UpdateGroupDeleted, g.UpdateMeta, map[string]interface{}{
		"group_id":   g.GroupID,
		"deleted_by": g.DeletedBy,
	})
}

func (s *UpdatesStorage) GroupCreated(g *models.GroupCreated) error {
	update, err := s.groupCreatedToProtobuf(g)
	if err != nil {
		return err
	}
	return s.putUpdate(s.cfg.UpdatesTopic, g.GroupID, update)
}

func (s *UpdatesStorage) ChatCreated(chat *models.ChatCreated) error {
	update, err := s.chatCreatedToProtobuf(chat)
	if err != nil {
		return err
	}
	return s.putUpdate(s.cfg.UpdatesTopic, chat.ChatID, update)
}

func (s *UpdatesStorage) MessageSent(msg *models.MessageSent) error {
	update, err := s.messageSentToProtobuf(msg)
	if err != nil {
		return err
	}
	return s.putUpdate(s.cfg.UpdatesTopic, msg.ChatID, update)
}

func (s *UpdatesStorage) MemberAdded(member *models.MemberAdded) error {
	update, err := s.memberAddedToProtobuf(member)
	if err != nil {
		return err
	}
	return s.putUpdate(s.cfg.UpdatesTopic, member.ChatID, update)
}

func (s *UpdatesStorage) MemberRemoved(member *models.MemberRemoved) error {
	update, err := s.memberRemovedToProtobuf(member)
	if err != nil {
		return err
	}
	return s.putUpdate(s.cfg.UpdatesTopic, member.ChatID, update)
}

func (s *UpdatesStorage) RoleChanged(r *models.RoleChanged) error {
	update, err := s.roleChangedToProtobuf(r)
	if err != nil {
		return err
	}
	return s.putUpdate(s.cfg.UpdatesTopic, r.GroupID, update)
}

func (s *UpdatesStorage) GroupDeleted(g *models.GroupDeleted) error {
	update, err := s.groupDeletedToProtobuf(g)
	if err != nil {
		return err
	}
	return s.putUpdate(s.cfg.UpdatesTopic, g.GroupID, update)
}

// NopUpdates drops every update; used when no broker is configured.
type NopUpdates struct{}

func (NopUpdates) GroupCreated(*models.GroupCreated) error   { return nil }
func (NopUpdates) ChatCreated(*models.ChatCreated) error     { return nil }
func (NopUpdates) MessageSent(*models.MessageSent) error     { return nil }
func (NopUpdates) MemberAdded(*models.MemberAdded) error     { return nil }
func (NopUpdates) MemberRemoved(*models.MemberRemoved) error { return nil }
func (NopUpdates) RoleChanged(*models.RoleChanged) error     { return nil }
func (NopUpdates) GroupDeleted(*models.GroupDeleted) error   { return nil }

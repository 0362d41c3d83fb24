package server

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"
)

func (s *GroupChatServer) LoadUserChats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := actor(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	chats := s.chats.LoadUserChats(ctx, userID)
	return respond(map[string]interface{}{"chats": chatList(chats)})
}

func (s *GroupChatServer) LoadChatByID(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r chatRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	chat := s.chats.LoadChatByID(ctx, r.ChatID, userID)
	if chat == nil {
		return nil, wrapError(rejected("load chat"))
	}
	return respond(map[string]interface{}{"chat": chatRecord(chat)})
}

func (s *GroupChatServer) CreateChat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r createChatRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	chat := s.chats.CreateChat(ctx, userID, r.OtherID)
	if chat == nil {
		return nil, wrapError(rejected("create chat"))
	}
	return respond(map[string]interface{}{"chat": chatRecord(chat)})
}

func (s *GroupChatServer) CreateGroupChat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r createGroupChatRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	chat := s.chats.CreateGroupChat(ctx, r.Name, userID, r.Participants)
	if chat == nil {
		return nil, wrapError(rejected("create group chat"))
	}
	return respond(map[string]interface{}{"chat": chatRecord(chat)})
}

func (s *GroupChatServer) AddUserToGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r chatMemberRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.chats.AddUserToGroup(ctx, r.ChatID, r.UserID, userID) {
		return nil, wrapError(rejected("add user to chat"))
	}
	return done()
}

func (s *GroupChatServer) RemoveUserFromGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r chatMemberRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.chats.RemoveUserFromGroup(ctx, r.ChatID, r.UserID, userID) {
		return nil, wrapError(rejected("remove user from chat"))
	}
	return done()
}

func (s *GroupChatServer) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r sendMessageRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	msg := s.chats.SendMessage(ctx, SendMessageToModel(userID, &r))
	if msg == nil {
		return nil, wrapError(rejected("send message"))
	}
	return respond(map[string]interface{}{"message": msg.ToRecord()})
}

// LoadMessages answers an empty list both for an empty chat and for a
// caller who may not read it.
func (s *GroupChatServer) LoadMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r loadMessagesRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	msgs := s.chats.LoadMessages(ctx, r.ChatID, userID, r.Limit)
	return respond(map[string]interface{}{"messages": messageList(msgs)})
}

func (s *GroupChatServer) MarkMessagesAsRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r chatRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.chats.MarkMessagesAsRead(ctx, r.ChatID, userID) {
		return nil, wrapError(rejected("mark messages as read"))
	}
	return done()
}

func (s *GroupChatServer) DeleteMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r messageRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.chats.DeleteMessage(ctx, r.ChatID, r.MessageID, userID) {
		return nil, wrapError(rejected("delete message"))
	}
	return done()
}

func (s *GroupChatServer) EditMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r editMessageRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.chats.EditMessage(ctx, r.ChatID, r.MessageID, r.Content, userID) {
		return nil, wrapError(rejected("edit message"))
	}
	return done()
}

func (s *GroupChatServer) SetTyping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r typingRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.chats.SetTyping(ctx, r.ChatID, userID, r.Typing) {
		return nil, wrapError(rejected("set typing"))
	}
	return done()
}

// SendSystemMessage is limited to participants of the chat.
func (s *GroupChatServer) SendSystemMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r systemMessageRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if s.chats.LoadChatByID(ctx, r.ChatID, userID) == nil {
		return nil, wrapError(rejected("send system message"))
	}
	msg := s.chats.SendSystemMessage(ctx, r.ChatID, r.Content)
	if msg == nil {
		return nil, wrapError(rejected("send system message"))
	}
	return respond(map[string]interface{}{"message": msg.ToRecord()})
}

package server

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"
)

// parse resolves the acting user and decodes the request into dst.
func (s *GroupChatServer) parse(ctx context.Context, req *structpb.Struct, dst interface{}) (string, error) {
	userID, err := actor(ctx)
	if err != nil {
		return "", wrapError(err)
	}
	if err = s.decode(req, dst); err != nil {
		return "", wrapError(err)
	}
	return userID, nil
}

func (s *GroupChatServer) CreateGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r createGroupRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	g := s.groups.CreateGroup(ctx, CreateGroupToModel(userID, &r))
	if g == nil {
		return nil, wrapError(rejected("create group"))
	}
	return respond(map[string]interface{}{"group": g.ToRecord()})
}

// LoadGroup returns public groups to anyone and private ones to members.
func (s *GroupChatServer) LoadGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r groupRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	g := s.groups.LoadGroup(ctx, r.GroupID)
	if g == nil || (!g.IsPublic && !g.IsMember(userID)) {
		return nil, wrapError(rejected("load group"))
	}
	return respond(map[string]interface{}{"group": g.ToRecord()})
}

func (s *GroupChatServer) GetUserGroups(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := actor(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	groups := s.groups.GetUserGroups(ctx, userID)
	return respond(map[string]interface{}{"groups": groupList(groups)})
}

func (s *GroupChatServer) GetGroupMembers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r groupRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	members := s.groups.GetGroupMembers(ctx, r.GroupID, userID)
	return respond(map[string]interface{}{"members": userList(members)})
}

// AddMembersToGroup reports which of the requested users were added.
func (s *GroupChatServer) AddMembersToGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r groupMembersRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	added := s.groups.AddMembersToGroup(ctx, r.GroupID, r.UserIDs, userID)
	return respond(map[string]interface{}{"added": stringValues(added)})
}

func (s *GroupChatServer) RemoveMemberFromGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r groupMemberRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.groups.RemoveMemberFromGroup(ctx, r.GroupID, r.UserID, userID) {
		return nil, wrapError(rejected("remove member"))
	}
	return done()
}

func (s *GroupChatServer) LeaveGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r groupRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.groups.LeaveGroup(ctx, r.GroupID, userID) {
		return nil, wrapError(rejected("leave group"))
	}
	return done()
}

func (s *GroupChatServer) PromoteToAdmin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r groupMemberRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.groups.PromoteToAdmin(ctx, r.GroupID, r.UserID, userID) {
		return nil, wrapError(rejected("promote to admin"))
	}
	return done()
}

func (s *GroupChatServer) DemoteFromAdmin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r groupMemberRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.groups.DemoteFromAdmin(ctx, r.GroupID, r.UserID, userID) {
		return nil, wrapError(rejected("demote from admin"))
	}
	return done()
}

func (s *GroupChatServer) GenerateNewInviteCode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r groupRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	code := s.groups.GenerateNewInviteCode(ctx, r.GroupID, userID)
	if code == "" {
		return nil, wrapError(rejected("generate invite code"))
	}
	return respond(map[string]interface{}{"inviteCode": code})
}

func (s *GroupChatServer) JoinGroupByInviteCode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r inviteCodeRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	g := s.groups.JoinGroupByInviteCode(ctx, r.InviteCode, userID)
	if g == nil {
		return nil, wrapError(rejected("join by invite code"))
	}
	return respond(map[string]interface{}{"group": g.ToRecord()})
}

func (s *GroupChatServer) UpdateGroupInfo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r groupInfoRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.groups.UpdateGroupInfo(ctx, r.GroupID, r.Name, r.Description, userID) {
		return nil, wrapError(rejected("update group info"))
	}
	return done()
}

// UpdateGroupSettings changes the flags present in the request and keeps
// the group's current value for the rest.
func (s *GroupChatServer) UpdateGroupSettings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r groupSettingsRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	g := s.groups.LoadGroup(ctx, r.GroupID)
	if g == nil {
		return nil, wrapError(rejected("update group settings"))
	}
	if !s.groups.UpdateGroupSettings(ctx, r.GroupID, r.Settings.apply(g.Settings), userID) {
		return nil, wrapError(rejected("update group settings"))
	}
	return done()
}

func (s *GroupChatServer) DeleteGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r groupRequest
	userID, err := s.parse(ctx, req, &r)
	if err != nil {
		return nil, err
	}
	if !s.groups.DeleteGroup(ctx, r.GroupID, userID) {
		return nil, wrapError(rejected("delete group"))
	}
	return done()
}

func (s *GroupChatServer) SearchGroups(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var r searchGroupsRequest
	if _, err := s.parse(ctx, req, &r); err != nil {
		return nil, err
	}
	groups := s.groups.SearchGroups(ctx, r.Query, r.Limit)
	return respond(map[string]interface{}{"groups": groupList(groups)})
}

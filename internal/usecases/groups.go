package usecases

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/practice-sem-2/group-chat-service/internal/bridge"
	"github.com/practice-sem-2/group-chat-service/internal/models"
	storage "github.com/practice-sem-2/group-chat-service/internal/storages"
	"github.com/sirupsen/logrus"
)

const (
	inviteCodeAttempts = 5
	defaultSearchLimit = 50
)

type GroupsConfig struct {
	DefaultMaxMembers int
	// InviteSource feeds invite code generation; nil means crypto/rand.
	InviteSource io.Reader
}

// GroupsUsecase orchestrates group operations. The group record and its
// chat projection are written as two separate store operations; the group
// write decides the outcome and a failed projection write is handed to the
// Reconciler.
type GroupsUsecase struct {
	base
	cfg        GroupsConfig
	reconciler *Reconciler
}

func NewGroupsUsecase(d Deps, cfg GroupsConfig, reconciler *Reconciler) *GroupsUsecase {
	if cfg.DefaultMaxMembers <= 0 {
		cfg.DefaultMaxMembers = models.DefaultMaxMembers
	}
	return &GroupsUsecase{
		base:       newBase(d),
		cfg:        cfg,
		reconciler: reconciler,
	}
}

// CreateGroup derives the group id from the name, rejects a name whose id
// is taken, and writes the group and its chat. The existence check and the
// write are not atomic; two concurrent creators of one name may both pass.
func (u *GroupsUsecase) CreateGroup(ctx context.Context, req models.GroupCreate) *models.Group {
	fields := logrus.Fields{"group_name": req.Name, "creator": req.CreatorID}
	g, err := u.createGroup(ctx, req)
	if err != nil {
		u.fail("create group", fields, err)
		return nil
	}
	u.logger.WithFields(fields).WithField("group_id", g.GroupID).Info("group created")
	return g
}

func (u *GroupsUsecase) createGroup(ctx context.Context, req models.GroupCreate) (*models.Group, error) {
	if err := u.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusinessLogicViolation, err)
	}

	id := models.SanitizeGroupID(req.Name)
	if id == "" {
		return nil, fmt.Errorf("%w: group name has no usable characters", ErrBusinessLogicViolation)
	}

	exists, err := u.bridge.Exists(ctx, groupPath(id))
	if err != nil {
		return nil, fmt.Errorf("can't check group id: %w", err)
	}
	if exists {
		return nil, ErrGroupExists
	}

	code, err := u.newInviteCode(ctx)
	if err != nil {
		return nil, err
	}

	now := u.now()
	g := models.NewGroup(id, strings.TrimSpace(req.Name), strings.TrimSpace(req.Description), req.CreatorID, now, code)
	g.IsPublic = req.IsPublic
	g.MaxMembers = u.cfg.DefaultMaxMembers
	if req.MaxMembers > 0 {
		g.MaxMembers = req.MaxMembers
	}
	for _, m := range req.Members {
		if m == req.CreatorID || g.IsMember(m) {
			continue
		}
		if !g.AddMember(m, req.CreatorID) {
			u.logger.WithField("group_id", id).WithField("user_id", m).Warn("initial member skipped")
		}
	}

	chat := models.NewChat(id, g.GroupName, g.CreatedBy, g.Members, now)
	if err := u.persist(ctx, g.GroupID,
		u.bridge.WriteOp(groupPath(id), g.ToRecord()),
		u.bridge.WriteOp(chatPath(id), chat.ToRecord()),
	); err != nil {
		return nil, err
	}

	members := append([]string(nil), g.Members...)
	u.effects.Go("reverse index", logrus.Fields{"group_id": id}, func(ctx context.Context) error {
		return u.index(ctx, id, true, members...)
	})
	u.announce(id, "%s created the group", g.CreatedBy)
	meta := models.UpdateMeta{Timestamp: now, Audience: members}
	u.publish("group created", logrus.Fields{"group_id": id}, func() error {
		return u.updates.GroupCreated(&models.GroupCreated{
			UpdateMeta: meta,
			GroupID:    id,
			GroupName:  g.GroupName,
			CreatedBy:  g.CreatedBy,
			Members:    members,
		})
	})
	u.publish("chat created", logrus.Fields{"group_id": id}, func() error {
		return u.updates.ChatCreated(&models.ChatCreated{
			UpdateMeta: meta,
			ChatID:     id,
			IsGroup:    true,
			Members:    members,
		})
	})
	return g.Clone(), nil
}

// newInviteCode draws codes until one is not used by another group. The
// check is a query, not a reservation, so a concurrent generator may still
// pick the same code.
func (u *GroupsUsecase) newInviteCode(ctx context.Context) (string, error) {
	var code string
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		var err error
		code, err = models.GenerateInviteCode(u.cfg.InviteSource)
		if err != nil {
			return "", fmt.Errorf("can't generate invite code: %w", err)
		}
		snaps, err := u.bridge.Query(ctx, groupsRoot, "inviteCode", code)
		if err != nil {
			u.logger.WithError(err).Warn("invite code uniqueness check failed, using unchecked code")
			return code, nil
		}
		if len(snaps) == 0 {
			return code, nil
		}
		u.logger.WithField("attempt", attempt+1).Debug("invite code collision")
	}
	u.logger.Warn("invite code attempts exhausted, using last generated code")
	return code, nil
}

// persist runs the group write and the chat projection write together.
// Only the group write decides the outcome.
func (u *GroupsUsecase) persist(ctx context.Context, groupID string, groupOp, chatOp bridge.Op) error {
	errs := u.bridge.FanOut(ctx, u.bridge.Timeouts().FanOut, groupOp, chatOp)
	if errs[0] != nil {
		return fmt.Errorf("can't write group: %w", errs[0])
	}
	if errs[1] != nil {
		u.logger.WithField("group_id", groupID).WithError(errs[1]).Error("chat projection write failed")
		if u.reconciler != nil {
			u.reconciler.Mark(groupID)
		}
	}
	return nil
}

func (u *GroupsUsecase) LoadGroup(ctx context.Context, groupID string) *models.Group {
	g, err := u.loadGroup(ctx, groupID)
	if err != nil {
		u.fail("load group", logrus.Fields{"group_id": groupID}, err)
		return nil
	}
	return g
}

// GetUserGroups lists the active groups the user belongs to, most recently
// active first. Index entries that point at groups the user has left are
// ignored.
func (u *GroupsUsecase) GetUserGroups(ctx context.Context, userID string) []*models.Group {
	ids, err := u.indexedIDs(ctx, userGroupsPath(userID))
	if err != nil {
		u.fail("get user groups", logrus.Fields{"user_id": userID}, err)
		return []*models.Group{}
	}

	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = groupPath(id)
	}
	snaps := u.bridge.ReadMany(ctx, u.bridge.Timeouts().LongFanOut, paths...)

	groups := make([]*models.Group, 0, len(snaps))
	for i, snap := range snaps {
		if snap.Err != nil {
			u.logger.WithField("group_id", ids[i]).WithError(snap.Err).Warn("group skipped while listing")
			continue
		}
		g := models.GroupFromRecord(snap.Record())
		if g == nil || !g.IsActive || !g.IsMember(userID) {
			continue
		}
		if g.GroupID == "" {
			g.GroupID = ids[i]
		}
		groups = append(groups, g)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].LastActivity.After(groups[j].LastActivity)
	})
	return groups
}

// GetGroupMembers returns member profiles with per-group role flags. With
// member lists hidden only admins may see them.
func (u *GroupsUsecase) GetGroupMembers(ctx context.Context, groupID, actingID string) []*models.User {
	fields := logrus.Fields{"group_id": groupID, "acting": actingID}
	g, err := u.loadGroup(ctx, groupID)
	if err != nil {
		u.fail("get group members", fields, err)
		return []*models.User{}
	}
	if !g.IsMember(actingID) || (!g.Settings.MembersVisible && !g.IsAdmin(actingID)) {
		u.fail("get group members", fields, ErrUserIsNotAGroupMember)
		return []*models.User{}
	}

	paths := make([]string, len(g.Members))
	for i, id := range g.Members {
		paths[i] = userPath(id)
	}
	snaps := u.bridge.ReadMany(ctx, u.bridge.Timeouts().FanOut, paths...)

	users := make([]*models.User, len(g.Members))
	for i, id := range g.Members {
		user := models.UserFromRecord(snaps[i].Record())
		if user == nil {
			user = &models.User{}
		}
		user.UserID = id
		user.Admin = g.IsAdmin(id)
		user.Creator = g.IsCreator(id)
		users[i] = user
	}
	return users
}

func (u *GroupsUsecase) AddMemberToGroup(ctx context.Context, groupID, userID, actingID string) bool {
	return len(u.AddMembersToGroup(ctx, groupID, []string{userID}, actingID)) > 0
}

// AddMembersToGroup adds every user the actor may add and returns the ones
// actually added. Capacity is checked against the group as loaded; two
// callers adding concurrently can both pass it.
func (u *GroupsUsecase) AddMembersToGroup(ctx context.Context, groupID string, userIDs []string, actingID string) []string {
	fields := logrus.Fields{"group_id": groupID, "acting": actingID}
	g, added, err := u.addMembers(ctx, groupID, userIDs, func(g *models.Group, id string) bool {
		return g.AddMember(id, actingID)
	})
	if err != nil {
		u.fail("add members", fields, err)
		return []string{}
	}
	for _, id := range added {
		u.announce(groupID, "%s added %s to the group", actingID, id)
	}
	u.publishAdded(g, added, actingID)
	return added
}

// JoinGroupByInviteCode adds the user to the group the code resolves to.
// The joiner adds themself, so the admin-only-add setting does not apply.
// Deleted groups keep their code and are skipped; if several active groups
// share it the first one by id wins.
func (u *GroupsUsecase) JoinGroupByInviteCode(ctx context.Context, code, userID string) *models.Group {
	code = strings.ToUpper(strings.TrimSpace(code))
	fields := logrus.Fields{"invite_code": code, "user_id": userID}
	if len(code) != models.InviteCodeLength || userID == "" {
		u.fail("join group", fields, fmt.Errorf("%w: malformed invite code", ErrBusinessLogicViolation))
		return nil
	}

	snaps, err := u.bridge.Query(ctx, groupsRoot, "inviteCode", code)
	if err != nil {
		u.fail("join group", fields, err)
		return nil
	}
	var groupID string
	active := 0
	for _, snap := range snaps {
		if g := models.GroupFromRecord(snap.Record()); g != nil && g.IsActive {
			if active == 0 {
				groupID = snap.Key
			}
			active++
		}
	}
	if active == 0 {
		u.fail("join group", fields, ErrGroupNotFound)
		return nil
	}
	if active > 1 {
		u.logger.WithFields(fields).WithField("matches", active).Warn("invite code is shared by several groups")
	}

	g, added, err := u.addMembers(ctx, groupID, []string{userID}, func(g *models.Group, id string) bool {
		return g.Join(id)
	})
	if err != nil {
		u.fail("join group", fields, err)
		return nil
	}
	u.announce(groupID, "%s joined the group via invite link", userID)
	u.publishAdded(g, added, userID)
	return g.Clone()
}

func (u *GroupsUsecase) addMembers(ctx context.Context, groupID string, userIDs []string, add func(*models.Group, string) bool) (*models.Group, []string, error) {
	g, err := u.loadGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	if !g.IsActive {
		return nil, nil, ErrGroupInactive
	}

	added := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if add(g, id) {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return nil, nil, fmt.Errorf("%w: nobody could be added", ErrBusinessLogicViolation)
	}
	g.Touch(u.now())

	chatFields := map[string]interface{}{"participants": g.Members}
	for _, id := range added {
		chatFields[storage.JoinPath("unreadCount", id)] = 0
	}
	err = u.persist(ctx, groupID,
		u.bridge.UpdateOp(groupPath(groupID), map[string]interface{}{
			"members":      g.Members,
			"lastActivity": models.Millis(g.LastActivity),
		}),
		u.bridge.UpdateOp(chatPath(groupID), chatFields),
	)
	if err != nil {
		return nil, nil, err
	}

	u.effects.Go("reverse index", logrus.Fields{"group_id": groupID}, func(ctx context.Context) error {
		return u.index(ctx, groupID, true, added...)
	})
	return g, added, nil
}

func (u *GroupsUsecase) publishAdded(g *models.Group, added []string, actingID string) {
	meta := models.UpdateMeta{Timestamp: g.LastActivity, Audience: append([]string(nil), g.Members...)}
	for _, id := range added {
		id := id
		u.publish("member added", logrus.Fields{"group_id": g.GroupID, "user_id": id}, func() error {
			return u.updates.MemberAdded(&models.MemberAdded{
				UpdateMeta: meta,
				ChatID:     g.GroupID,
				Username:   id,
				AddedBy:    actingID,
			})
		})
	}
}

// RemoveMemberFromGroup removes userID on behalf of actingID; removing
// yourself is leaving. The creator can't be removed.
func (u *GroupsUsecase) RemoveMemberFromGroup(ctx context.Context, groupID, userID, actingID string) bool {
	fields := logrus.Fields{"group_id": groupID, "user_id": userID, "acting": actingID}
	g, err := u.loadGroup(ctx, groupID)
	if err != nil {
		u.fail("remove member", fields, err)
		return false
	}
	if !g.RemoveMember(userID, actingID) {
		u.fail("remove member", fields, ErrPermissionDenied)
		return false
	}
	g.Touch(u.now())

	chatFields := map[string]interface{}{"participants": g.Members}
	for _, field := range []string{"unreadCount", "lastReadTime", "typing"} {
		chatFields[storage.JoinPath(field, userID)] = nil
	}
	err = u.persist(ctx, groupID,
		u.bridge.UpdateOp(groupPath(groupID), map[string]interface{}{
			"members":      g.Members,
			"admins":       g.Admins,
			"lastActivity": models.Millis(g.LastActivity),
		}),
		u.bridge.UpdateOp(chatPath(groupID), chatFields),
	)
	if err != nil {
		u.fail("remove member", fields, err)
		return false
	}

	u.effects.Go("reverse index", fields, func(ctx context.Context) error {
		return u.unindex(ctx, groupID, userID)
	})
	if userID == actingID {
		u.announce(groupID, "%s left the group", userID)
	} else {
		u.announce(groupID, "%s removed %s from the group", actingID, userID)
	}
	meta := models.UpdateMeta{Timestamp: g.LastActivity, Audience: append(append([]string(nil), g.Members...), userID)}
	u.publish("member removed", fields, func() error {
		return u.updates.MemberRemoved(&models.MemberRemoved{
			UpdateMeta: meta,
			ChatID:     groupID,
			Username:   userID,
			RemovedBy:  actingID,
		})
	})
	return true
}

func (u *GroupsUsecase) LeaveGroup(ctx context.Context, groupID, userID string) bool {
	return u.RemoveMemberFromGroup(ctx, groupID, userID, userID)
}

func (u *GroupsUsecase) PromoteToAdmin(ctx context.Context, groupID, userID, actingID string) bool {
	return u.changeRole(ctx, "promote to admin", groupID, userID, actingID, func(g *models.Group) bool {
		return g.PromoteToAdmin(userID, actingID)
	}, "%s made %s an admin")
}

func (u *GroupsUsecase) DemoteFromAdmin(ctx context.Context, groupID, userID, actingID string) bool {
	return u.changeRole(ctx, "demote from admin", groupID, userID, actingID, func(g *models.Group) bool {
		return g.DemoteFromAdmin(userID, actingID)
	}, "%s removed %s from admins")
}

// changeRole touches only the group record; the chat has no role data.
func (u *GroupsUsecase) changeRole(ctx context.Context, op, groupID, userID, actingID string, mutate func(*models.Group) bool, notice string) bool {
	fields := logrus.Fields{"group_id": groupID, "user_id": userID, "acting": actingID}
	g, err := u.loadGroup(ctx, groupID)
	if err != nil {
		u.fail(op, fields, err)
		return false
	}
	if !mutate(g) {
		u.fail(op, fields, ErrPermissionDenied)
		return false
	}
	g.Touch(u.now())

	err = u.bridge.Update(ctx, groupPath(groupID), map[string]interface{}{
		"admins":       g.Admins,
		"lastActivity": models.Millis(g.LastActivity),
	})
	if err != nil {
		u.fail(op, fields, err)
		return false
	}

	u.announce(groupID, notice, actingID, userID)
	role := g.RoleOf(userID)
	meta := models.UpdateMeta{Timestamp: g.LastActivity, Audience: append([]string(nil), g.Members...)}
	u.publish("role changed", fields, func() error {
		return u.updates.RoleChanged(&models.RoleChanged{
			UpdateMeta: meta,
			GroupID:    groupID,
			Username:   userID,
			Role:       role,
			ChangedBy:  actingID,
		})
	})
	return true
}

// GenerateNewInviteCode replaces the group's invite code and returns the
// new one, or "" on failure.
func (u *GroupsUsecase) GenerateNewInviteCode(ctx context.Context, groupID, actingID string) string {
	fields := logrus.Fields{"group_id": groupID, "acting": actingID}
	g, err := u.loadGroup(ctx, groupID)
	if err != nil {
		u.fail("generate invite code", fields, err)
		return ""
	}
	if !g.IsAdmin(actingID) {
		u.fail("generate invite code", fields, ErrPermissionDenied)
		return ""
	}
	code, err := u.newInviteCode(ctx)
	if err != nil {
		u.fail("generate invite code", fields, err)
		return ""
	}
	if !g.SetInviteCode(code, actingID) {
		u.fail("generate invite code", fields, ErrPermissionDenied)
		return ""
	}
	if err := u.bridge.Update(ctx, groupPath(groupID), map[string]interface{}{"inviteCode": code}); err != nil {
		u.fail("generate invite code", fields, err)
		return ""
	}
	return code
}

// UpdateGroupInfo renames the group and its chat projection.
func (u *GroupsUsecase) UpdateGroupInfo(ctx context.Context, groupID, name, description, actingID string) bool {
	fields := logrus.Fields{"group_id": groupID, "acting": actingID}
	g, err := u.loadGroup(ctx, groupID)
	if err != nil {
		u.fail("update group info", fields, err)
		return false
	}
	oldName := g.GroupName
	if !g.UpdateInfo(name, description, actingID) {
		u.fail("update group info", fields, ErrPermissionDenied)
		return false
	}
	g.Touch(u.now())

	err = u.persist(ctx, groupID,
		u.bridge.UpdateOp(groupPath(groupID), map[string]interface{}{
			"groupName":    g.GroupName,
			"description":  g.Description,
			"lastActivity": models.Millis(g.LastActivity),
		}),
		u.bridge.UpdateOp(chatPath(groupID), map[string]interface{}{"chatName": g.GroupName}),
	)
	if err != nil {
		u.fail("update group info", fields, err)
		return false
	}
	if oldName != g.GroupName {
		u.effects.Go("system message", fields, func(ctx context.Context) error {
			content := fmt.Sprintf("%s renamed the group to %q", u.displayName(ctx, actingID), g.GroupName)
			_, err := u.postSystemMessage(ctx, groupID, content)
			return err
		})
	}
	return true
}

func (u *GroupsUsecase) UpdateGroupSettings(ctx context.Context, groupID string, settings models.GroupSettings, actingID string) bool {
	fields := logrus.Fields{"group_id": groupID, "acting": actingID}
	g, err := u.loadGroup(ctx, groupID)
	if err != nil {
		u.fail("update group settings", fields, err)
		return false
	}
	if !g.UpdateSettings(settings, actingID) {
		u.fail("update group settings", fields, ErrPermissionDenied)
		return false
	}
	if err := u.bridge.Update(ctx, groupPath(groupID), map[string]interface{}{"settings": g.Settings.ToRecord()}); err != nil {
		u.fail("update group settings", fields, err)
		return false
	}
	return true
}

// DeleteGroup deactivates the group and its chat. Records and indexes
// are kept.
func (u *GroupsUsecase) DeleteGroup(ctx context.Context, groupID, actingID string) bool {
	fields := logrus.Fields{"group_id": groupID, "acting": actingID}
	g, err := u.loadGroup(ctx, groupID)
	if err != nil {
		u.fail("delete group", fields, err)
		return false
	}
	if !g.Deactivate(actingID) {
		u.fail("delete group", fields, ErrPermissionDenied)
		return false
	}
	g.Touch(u.now())

	err = u.persist(ctx, groupID,
		u.bridge.UpdateOp(groupPath(groupID), map[string]interface{}{
			"isActive":     false,
			"lastActivity": models.Millis(g.LastActivity),
		}),
		u.bridge.UpdateOp(chatPath(groupID), map[string]interface{}{"isActive": false}),
	)
	if err != nil {
		u.fail("delete group", fields, err)
		return false
	}

	u.announce(groupID, "%s deleted the group", actingID)
	meta := models.UpdateMeta{Timestamp: g.LastActivity, Audience: append([]string(nil), g.Members...)}
	u.publish("group deleted", fields, func() error {
		return u.updates.GroupDeleted(&models.GroupDeleted{
			UpdateMeta: meta,
			GroupID:    groupID,
			DeletedBy:  actingID,
		})
	})
	return true
}

// SearchGroups matches public active groups whose name or description
// contains query, ignoring case. An empty query lists them all.
func (u *GroupsUsecase) SearchGroups(ctx context.Context, query string, limit int) []*models.Group {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	snaps, err := u.bridge.Query(ctx, groupsRoot, "isPublic", true)
	if err != nil {
		u.fail("search groups", logrus.Fields{"query": query}, err)
		return []*models.Group{}
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	groups := make([]*models.Group, 0)
	for _, snap := range snaps {
		g := models.GroupFromRecord(snap.Record())
		if g == nil || !g.IsActive {
			continue
		}
		if g.GroupID == "" {
			g.GroupID = snap.Key
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(g.GroupName), needle) &&
			!strings.Contains(strings.ToLower(g.Description), needle) {
			continue
		}
		groups = append(groups, g)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return strings.ToLower(groups[i].GroupName) < strings.ToLower(groups[j].GroupName)
	})
	if len(groups) > limit {
		groups = groups[:limit]
	}
	return groups
}

// groupBacksChat reports whether a group record exists for chatID.
func (u *GroupsUsecase) groupBacksChat(ctx context.Context, chatID string) (bool, error) {
	return u.bridge.Exists(ctx, groupPath(chatID))
}

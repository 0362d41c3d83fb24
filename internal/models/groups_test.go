package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTeamAlpha(t *testing.T) *Group {
	code, err := GenerateInviteCode(nil)
	require.NoError(t, err)
	g := NewGroup(SanitizeGroupID("Team Alpha"), "Team Alpha", "", "u1", testNow, code)
	for _, m := range []string{"u1", "u2", "u3"} {
		g.AddMember(m, "u1")
	}
	return g
}

// jsonRoundTrip mimics what a store does to a record.
func jsonRoundTrip(t *testing.T, r Record) Record {
	b, err := json.Marshal(r)
	require.NoError(t, err)
	out := Record{}
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestCreateGroupScenario(t *testing.T) {
	g := newTeamAlpha(t)

	assert.Equal(t, "team_alpha", g.GroupID)
	assert.Equal(t, []string{"u1", "u2", "u3"}, g.Members)
	assert.Equal(t, []string{"u1"}, g.Admins)
	assert.Equal(t, RoleCreator, g.RoleOf("u1"))
	assert.Equal(t, RoleMember, g.RoleOf("u2"))
	assert.Equal(t, RoleNone, g.RoleOf("u9"))
	assert.False(t, g.IsPublic)
	assert.Len(t, g.InviteCode, InviteCodeLength)
}

func TestCreatorAlwaysResolvesToCreator(t *testing.T) {
	g := newTeamAlpha(t)
	g.Admins = []string{}

	assert.True(t, g.IsMember("u1"))
	assert.True(t, g.IsAdmin("u1"))
	assert.Equal(t, RoleCreator, g.RoleOf("u1"))
	assert.False(t, g.DemoteFromAdmin("u1", "u1"), "creator cannot be demoted")
}

func TestAdminOnlyAdd(t *testing.T) {
	g := newTeamAlpha(t)
	g.Settings.OnlyAdminsCanAdd = true

	assert.False(t, g.AddMember("u4", "u2"))
	assert.Equal(t, []string{"u1", "u2", "u3"}, g.Members, "members should be unchanged")

	assert.True(t, g.AddMember("u4", "u1"))
	assert.Contains(t, g.Members, "u4")
}

func TestAddMemberRejections(t *testing.T) {
	g := newTeamAlpha(t)

	assert.False(t, g.AddMember("u2", "u1"), "duplicate")
	assert.False(t, g.AddMember("u4", "outsider"), "actor is not a member")
	assert.False(t, g.AddMember("", "u1"), "empty id")

	g.IsActive = false
	assert.False(t, g.AddMember("u4", "u1"), "inactive group")
}

func TestAddMemberNeverExceedsCapacity(t *testing.T) {
	g := newTeamAlpha(t)
	g.MaxMembers = 4

	assert.True(t, g.AddMember("u4", "u1"))
	assert.False(t, g.AddMember("u5", "u1"))
	assert.False(t, g.Join("u6"))
	assert.Len(t, g.Members, 4)
}

func TestJoinBypassesAdminOnlyAdd(t *testing.T) {
	g := newTeamAlpha(t)
	g.Settings.OnlyAdminsCanAdd = true

	assert.False(t, g.AddMember("u5", "u5"))
	assert.True(t, g.Join("u5"))
	assert.False(t, g.Join("u5"), "already a member")

	g.Settings.AllowInvites = false
	assert.False(t, g.Join("u6"))
}

func TestRemovedMemberLosesAdmin(t *testing.T) {
	g := newTeamAlpha(t)
	require.True(t, g.PromoteToAdmin("u2", "u1"))
	require.Contains(t, g.Admins, "u2")

	assert.True(t, g.RemoveMember("u2", "u1"))
	assert.NotContains(t, g.Members, "u2")
	assert.NotContains(t, g.Admins, "u2")
}

func TestSelfLeave(t *testing.T) {
	g := newTeamAlpha(t)

	assert.True(t, g.RemoveMember("u3", "u3"))
	assert.False(t, g.RemoveMember("u1", "u1"), "creator cannot leave")
	assert.False(t, g.RemoveMember("u1", "u2"), "nobody else removes the creator")
	assert.False(t, g.RemoveMember("u3", "u3"), "no longer a member")
}

func TestRemoveRequiresAdmin(t *testing.T) {
	g := newTeamAlpha(t)

	assert.False(t, g.RemoveMember("u3", "u2"))
	require.True(t, g.PromoteToAdmin("u2", "u1"))
	assert.True(t, g.RemoveMember("u3", "u2"))
}

func TestRemoveThenPromoteFails(t *testing.T) {
	g := newTeamAlpha(t)

	assert.True(t, g.RemoveMember("u2", "u1"))
	assert.False(t, g.PromoteToAdmin("u2", "u1"))
}

func TestPromoteRules(t *testing.T) {
	g := newTeamAlpha(t)

	assert.False(t, g.PromoteToAdmin("u3", "u2"), "actor is not an admin")
	assert.True(t, g.PromoteToAdmin("u2", "u1"))
	assert.False(t, g.PromoteToAdmin("u2", "u1"), "already an admin is rejected")
	assert.False(t, g.PromoteToAdmin("u1", "u2"), "creator already counts as admin")
	assert.True(t, g.PromoteToAdmin("u3", "u2"), "promoted admins may promote")
}

func TestDemoteRules(t *testing.T) {
	g := newTeamAlpha(t)
	require.True(t, g.PromoteToAdmin("u2", "u1"))

	assert.False(t, g.DemoteFromAdmin("u2", "u3"))
	assert.False(t, g.DemoteFromAdmin("u3", "u1"), "not an admin")
	assert.False(t, g.DemoteFromAdmin("u1", "u2"), "creator is never demoted")
	assert.True(t, g.DemoteFromAdmin("u2", "u1"))
	assert.Equal(t, RoleMember, g.RoleOf("u2"))
}

func TestCanSendMessages(t *testing.T) {
	g := newTeamAlpha(t)

	assert.True(t, g.CanSendMessages("u2"))
	assert.False(t, g.CanSendMessages("u9"))

	g.Settings.OnlyAdminsCanMessage = true
	assert.False(t, g.CanSendMessages("u2"))
	assert.True(t, g.CanSendMessages("u1"))
}

func TestUpdateInfoAndSettings(t *testing.T) {
	g := newTeamAlpha(t)

	assert.False(t, g.UpdateInfo("Team Beta", "", "u2"))
	assert.False(t, g.UpdateInfo("   ", "", "u1"))
	assert.True(t, g.UpdateInfo(" Team Beta ", " desc ", "u1"))
	assert.Equal(t, "Team Beta", g.GroupName)
	assert.Equal(t, "desc", g.Description)
	assert.Equal(t, "team_alpha", g.GroupID, "renaming keeps the id")

	s := g.Settings
	s.OnlyAdminsCanMessage = true
	assert.False(t, g.UpdateSettings(s, "u3"))
	assert.True(t, g.UpdateSettings(s, "u1"))
	assert.True(t, g.Settings.OnlyAdminsCanMessage)
}

func TestDeactivate(t *testing.T) {
	g := newTeamAlpha(t)
	require.True(t, g.PromoteToAdmin("u2", "u1"))

	assert.False(t, g.Deactivate("u2"))
	assert.True(t, g.Deactivate("u1"))
	assert.False(t, g.IsActive)
	assert.False(t, g.Deactivate("u1"))
}

func TestGenerateInviteCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateInviteCode(nil)
		require.NoError(t, err)
		require.Len(t, code, InviteCodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(inviteAlphabet, r), "unexpected symbol %q", r)
		}
	}
}

func TestGenerateInviteCodeRejectsBiasedBytes(t *testing.T) {
	src := bytes.NewReader(append(bytes.Repeat([]byte{255}, 16), bytes.Repeat([]byte{0, 35}, 8)...))
	code, err := GenerateInviteCode(src)
	require.NoError(t, err)
	assert.Equal(t, "A9A9A9A9", code)
}

func TestSanitizeGroupID(t *testing.T) {
	cases := map[string]string{
		"Team Alpha":               "team_alpha",
		"  Team   Alpha  ":         "team_alpha",
		"a.b#c$d[e]f/g":            "abcdefg",
		"42 Club":                  "group_42_club",
		"#$.":                      "",
		strings.Repeat("x", 80):    strings.Repeat("x", 50),
		"Ünïcode\tName":            "ünïcode_name",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeGroupID(in), "input %q", in)
	}
}

func TestGroupRecordRoundTrip(t *testing.T) {
	g := newTeamAlpha(t)
	require.True(t, g.PromoteToAdmin("u3", "u1"))
	g.Settings.OnlyAdminsCanAdd = true
	g.Settings.AllowFileSharing = false
	g.IsPublic = true
	g.MaxMembers = 12
	g.Description = "alpha team"

	back := GroupFromRecord(jsonRoundTrip(t, g.ToRecord()))
	assert.Equal(t, g, back)
}

func TestGroupFromRecordDefaults(t *testing.T) {
	g := GroupFromRecord(Record{"groupId": "g", "createdBy": "u1"})
	require.NotNil(t, g)
	assert.True(t, g.IsActive)
	assert.Equal(t, DefaultMaxMembers, g.MaxMembers)
	assert.Equal(t, DefaultGroupSettings(), g.Settings)
	assert.Nil(t, GroupFromRecord(nil))
}

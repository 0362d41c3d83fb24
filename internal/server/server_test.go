package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/practice-sem-2/group-chat-service/internal/bridge"
	"github.com/practice-sem-2/group-chat-service/internal/preferences"
	storage "github.com/practice-sem-2/group-chat-service/internal/storages"
	usecase "github.com/practice-sem-2/group-chat-service/internal/usecases"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type ServerTestSuite struct {
	suite.Suite
	store   *storage.MemoryClient
	effects *usecase.Effects
	srv     *grpc.Server
	conn    *grpc.ClientConn
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, &ServerTestSuite{})
}

func (s *ServerTestSuite) SetupTest() {
	logger, _ := test.NewNullLogger()
	s.store = storage.NewMemoryClient(logger)
	s.effects = usecase.NewEffects(logger)
	b := bridge.New(s.store, bridge.Timeouts{
		Exists:     200 * time.Millisecond,
		Single:     300 * time.Millisecond,
		FanOut:     400 * time.Millisecond,
		LongFanOut: 500 * time.Millisecond,
	}, logger)
	v := validator.New()
	deps := usecase.Deps{
		Bridge:   b,
		Updates:  storage.NopUpdates{},
		Effects:  s.effects,
		Validate: v,
		Logger:   logger,
	}
	groups := usecase.NewGroupsUsecase(deps, usecase.GroupsConfig{}, usecase.NewReconciler(deps))
	gs := NewGroupChatServer(
		groups,
		usecase.NewChatsUsecase(deps, groups),
		usecase.NewAuthUsecase(deps),
		preferences.NewService(b, preferences.NewMemoryBackend(time.Minute), logger),
		v,
	)

	lis := bufconn.Listen(1 << 20)
	s.srv = NewGRPCServer(gs, logger)
	go func() { _ = s.srv.Serve(lis) }()

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(s.T(), err)
	s.conn = conn
}

func (s *ServerTestSuite) TearDownTest() {
	_ = s.conn.Close()
	s.srv.Stop()
	s.effects.Wait()
	s.store.Wait()
}

func (s *ServerTestSuite) call(userID, method string, body map[string]interface{}) (map[string]interface{}, error) {
	in, err := structpb.NewStruct(body)
	require.NoError(s.T(), err)

	ctx := context.Background()
	if userID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, UserIDHeader, userID)
	}
	out := new(structpb.Struct)
	if err = s.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (s *ServerTestSuite) seedUser(id, username string) {
	require.NoError(s.T(), s.store.Seed("users/"+id, map[string]interface{}{
		"userId":   id,
		"username": username,
		"email":    id + "@example.com",
	}))
}

func (s *ServerTestSuite) settle() {
	s.effects.Wait()
	s.store.Wait()
}

func (s *ServerTestSuite) Test_CreateAndLoadGroup() {
	out, err := s.call("u1", "CreateGroup", map[string]interface{}{
		"name":    "Team Alpha",
		"members": []interface{}{"u2"},
	})
	require.NoError(s.T(), err)
	group := out["group"].(map[string]interface{})
	assert.Equal(s.T(), "team_alpha", group["groupId"])
	assert.Equal(s.T(), []interface{}{"u1", "u2"}, group["members"])
	s.settle()

	out, err = s.call("u2", "LoadGroup", map[string]interface{}{"groupId": "team_alpha"})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "Team Alpha", out["group"].(map[string]interface{})["groupName"])

	_, err = s.call("u3", "LoadGroup", map[string]interface{}{"groupId": "team_alpha"})
	assert.Equal(s.T(), codes.FailedPrecondition, status.Code(err))

	out, err = s.call("u2", "GetUserGroups", nil)
	require.NoError(s.T(), err)
	assert.Len(s.T(), out["groups"], 1)
}

func (s *ServerTestSuite) Test_ErrorCodes() {
	_, err := s.call("", "CreateGroup", map[string]interface{}{"name": "Team Alpha"})
	assert.Equal(s.T(), codes.Unauthenticated, status.Code(err))

	_, err = s.call("u1", "CreateGroup", map[string]interface{}{"name": ""})
	assert.Equal(s.T(), codes.InvalidArgument, status.Code(err))

	_, err = s.call("u1", "SendMessage", map[string]interface{}{"content": "hi"})
	assert.Equal(s.T(), codes.InvalidArgument, status.Code(err))

	_, err = s.call("u1", "CreateGroup", map[string]interface{}{"name": "Team Alpha", "members": []interface{}{"u2"}})
	require.NoError(s.T(), err)
	s.settle()

	_, err = s.call("u2", "PromoteToAdmin", map[string]interface{}{"groupId": "team_alpha", "userId": "u2"})
	assert.Equal(s.T(), codes.FailedPrecondition, status.Code(err))

	_, err = s.call("u1", "NoSuchMethod", nil)
	assert.Equal(s.T(), codes.Unimplemented, status.Code(err))
}

func (s *ServerTestSuite) Test_GroupAdministration() {
	_, err := s.call("u1", "CreateGroup", map[string]interface{}{"name": "Team Alpha"})
	require.NoError(s.T(), err)
	s.settle()

	out, err := s.call("u1", "AddMembersToGroup", map[string]interface{}{
		"groupId": "team_alpha",
		"userIds": []interface{}{"u2", "u3"},
	})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), []interface{}{"u2", "u3"}, out["added"])
	s.settle()

	_, err = s.call("u1", "PromoteToAdmin", map[string]interface{}{"groupId": "team_alpha", "userId": "u2"})
	require.NoError(s.T(), err)
	s.settle()

	out, err = s.call("u2", "GenerateNewInviteCode", map[string]interface{}{"groupId": "team_alpha"})
	require.NoError(s.T(), err)
	code := out["inviteCode"].(string)
	assert.Len(s.T(), code, 8)
	s.settle()

	out, err = s.call("u4", "JoinGroupByInviteCode", map[string]interface{}{"inviteCode": code})
	require.NoError(s.T(), err)
	assert.Contains(s.T(), out["group"].(map[string]interface{})["members"], "u4")
	s.settle()

	_, err = s.call("u1", "RemoveMemberFromGroup", map[string]interface{}{"groupId": "team_alpha", "userId": "u3"})
	require.NoError(s.T(), err)
	s.settle()

	_, err = s.call("u1", "UpdateGroupSettings", map[string]interface{}{
		"groupId":  "team_alpha",
		"settings": map[string]interface{}{"onlyAdminsCanMessage": true, "membersVisible": true},
	})
	require.NoError(s.T(), err)
	s.settle()

	_, err = s.call("u2", "DeleteGroup", map[string]interface{}{"groupId": "team_alpha"})
	assert.Equal(s.T(), codes.FailedPrecondition, status.Code(err))
	_, err = s.call("u1", "DeleteGroup", map[string]interface{}{"groupId": "team_alpha"})
	require.NoError(s.T(), err)
}

func (s *ServerTestSuite) Test_UpdateGroupSettingsKeepsOmittedFlags() {
	_, err := s.call("u1", "CreateGroup", map[string]interface{}{"name": "Team Alpha"})
	require.NoError(s.T(), err)
	s.settle()

	_, err = s.call("u1", "UpdateGroupSettings", map[string]interface{}{
		"groupId":  "team_alpha",
		"settings": map[string]interface{}{"onlyAdminsCanMessage": true},
	})
	require.NoError(s.T(), err)
	s.settle()

	out, err := s.call("u1", "LoadGroup", map[string]interface{}{"groupId": "team_alpha"})
	require.NoError(s.T(), err)
	settings := out["group"].(map[string]interface{})["settings"].(map[string]interface{})
	assert.Equal(s.T(), true, settings["onlyAdminsCanMessage"])
	assert.Equal(s.T(), false, settings["onlyAdminsCanAdd"])
	assert.Equal(s.T(), true, settings["allowInvites"])
	assert.Equal(s.T(), true, settings["membersVisible"])
	assert.Equal(s.T(), true, settings["allowFileSharing"])

	_, err = s.call("u1", "UpdateGroupSettings", map[string]interface{}{
		"groupId":  "team_alpha",
		"settings": map[string]interface{}{"allowInvites": false},
	})
	require.NoError(s.T(), err)
	s.settle()

	out, err = s.call("u1", "LoadGroup", map[string]interface{}{"groupId": "team_alpha"})
	require.NoError(s.T(), err)
	settings = out["group"].(map[string]interface{})["settings"].(map[string]interface{})
	assert.Equal(s.T(), false, settings["allowInvites"])
	assert.Equal(s.T(), true, settings["onlyAdminsCanMessage"])

	_, err = s.call("u1", "UpdateGroupSettings", map[string]interface{}{
		"groupId":  "missing",
		"settings": map[string]interface{}{"allowInvites": false},
	})
	assert.Equal(s.T(), codes.FailedPrecondition, status.Code(err))
}

func (s *ServerTestSuite) Test_ChatFlow() {
	s.seedUser("u1", "alice")
	s.seedUser("u2", "bob")

	out, err := s.call("u1", "CreateChat", map[string]interface{}{"otherId": "u2"})
	require.NoError(s.T(), err)
	chat := out["chat"].(map[string]interface{})
	chatID := chat["chatId"].(string)
	assert.Equal(s.T(), false, chat["isGroupChat"])
	s.settle()

	out, err = s.call("u1", "SendMessage", map[string]interface{}{"chatId": chatID, "content": "hello"})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "hello", out["message"].(map[string]interface{})["content"])
	s.settle()

	out, err = s.call("u2", "LoadMessages", map[string]interface{}{"chatId": chatID})
	require.NoError(s.T(), err)
	require.Len(s.T(), out["messages"], 1)

	out, err = s.call("u3", "LoadMessages", map[string]interface{}{"chatId": chatID})
	require.NoError(s.T(), err)
	assert.Empty(s.T(), out["messages"])

	_, err = s.call("u2", "MarkMessagesAsRead", map[string]interface{}{"chatId": chatID})
	require.NoError(s.T(), err)
	s.settle()

	out, err = s.call("u2", "LoadUserChats", nil)
	require.NoError(s.T(), err)
	require.Len(s.T(), out["chats"], 1)
	assert.Equal(s.T(), "hello", out["chats"].([]interface{})[0].(map[string]interface{})["lastMessage"])

	_, err = s.call("u3", "SendSystemMessage", map[string]interface{}{"chatId": chatID, "content": "intruder"})
	assert.Equal(s.T(), codes.FailedPrecondition, status.Code(err))
}

func (s *ServerTestSuite) Test_AuthAndSettings() {
	out, err := s.call("", "Register", map[string]interface{}{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "correct-horse-battery-staple-42",
	})
	require.NoError(s.T(), err)
	userID := out["userId"].(string)
	require.NotEmpty(s.T(), userID)
	s.settle()

	out, err = s.call("", "Login", map[string]interface{}{
		"email":    "alice@example.com",
		"password": "correct-horse-battery-staple-42",
	})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), userID, out["user"].(map[string]interface{})["userId"])

	_, err = s.call("", "Login", map[string]interface{}{"email": "alice@example.com", "password": "wrong-password"})
	assert.Equal(s.T(), codes.Unauthenticated, status.Code(err))

	out, err = s.call(userID, "GetSettings", nil)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "light", out["settings"].(map[string]interface{})["theme"])

	_, err = s.call(userID, "UpdateSetting", map[string]interface{}{"field": "theme", "value": "dark"})
	require.NoError(s.T(), err)
	out, err = s.call(userID, "GetSettings", nil)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "dark", out["settings"].(map[string]interface{})["theme"])

	_, err = s.call(userID, "UpdateSetting", map[string]interface{}{"field": "passwordHash", "value": "x"})
	assert.Equal(s.T(), codes.FailedPrecondition, status.Code(err))
	_, err = s.call(userID, "UpdateSetting", map[string]interface{}{"field": "theme"})
	assert.Equal(s.T(), codes.InvalidArgument, status.Code(err))

	_, err = s.call(userID, "Logout", nil)
	assert.NoError(s.T(), err)
}

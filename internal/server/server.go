package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/practice-sem-2/group-chat-service/internal/preferences"
	usecase "github.com/practice-sem-2/group-chat-service/internal/usecases"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName  = "groupchat.v1.GroupChat"
	UserIDHeader = "x-user-id"
)

var (
	ErrMissingActor   = errors.New("x-user-id metadata is required")
	ErrInvalidRequest = errors.New("invalid request")
	ErrRejected       = errors.New("operation was rejected")
	ErrBadCredentials = errors.New("invalid email or password")
	ErrUnavailable    = errors.New("settings are unavailable")
)

// GroupChatServer exposes the group, chat, auth and settings operations.
// Every message on the wire is a google.protobuf.Struct.
type GroupChatServer struct {
	groups   *usecase.GroupsUsecase
	chats    *usecase.ChatsUsecase
	auth     *usecase.AuthUsecase
	prefs    *preferences.Service
	validate *validator.Validate
}

func NewGroupChatServer(
	g *usecase.GroupsUsecase,
	c *usecase.ChatsUsecase,
	a *usecase.AuthUsecase,
	p *preferences.Service,
	v *validator.Validate,
) *GroupChatServer {
	return &GroupChatServer{
		groups:   g,
		chats:    c,
		auth:     a,
		prefs:    p,
		validate: v,
	}
}

type handlerFunc func(s *GroupChatServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

var handlers = map[string]handlerFunc{
	"CreateGroup":           (*GroupChatServer).CreateGroup,
	"LoadGroup":             (*GroupChatServer).LoadGroup,
	"GetUserGroups":         (*GroupChatServer).GetUserGroups,
	"GetGroupMembers":       (*GroupChatServer).GetGroupMembers,
	"AddMembersToGroup":     (*GroupChatServer).AddMembersToGroup,
	"RemoveMemberFromGroup": (*GroupChatServer).RemoveMemberFromGroup,
	"LeaveGroup":            (*GroupChatServer).LeaveGroup,
	"PromoteToAdmin":        (*GroupChatServer).PromoteToAdmin,
	"DemoteFromAdmin":       (*GroupChatServer).DemoteFromAdmin,
	"GenerateNewInviteCode": (*GroupChatServer).GenerateNewInviteCode,
	"JoinGroupByInviteCode": (*GroupChatServer).JoinGroupByInviteCode,
	"UpdateGroupInfo":       (*GroupChatServer).UpdateGroupInfo,
	"UpdateGroupSettings":   (*GroupChatServer).UpdateGroupSettings,
	"DeleteGroup":           (*GroupChatServer).DeleteGroup,
	"SearchGroups":          (*GroupChatServer).SearchGroups,
	"LoadUserChats":         (*GroupChatServer).LoadUserChats,
	"LoadChatByID":          (*GroupChatServer).LoadChatByID,
	"CreateChat":            (*GroupChatServer).CreateChat,
	"CreateGroupChat":       (*GroupChatServer).CreateGroupChat,
	"AddUserToGroup":        (*GroupChatServer).AddUserToGroup,
	"RemoveUserFromGroup":   (*GroupChatServer).RemoveUserFromGroup,
	"SendMessage":           (*GroupChatServer).SendMessage,
	"LoadMessages":          (*GroupChatServer).LoadMessages,
	"MarkMessagesAsRead":    (*GroupChatServer).MarkMessagesAsRead,
	"DeleteMessage":         (*GroupChatServer).DeleteMessage,
	"EditMessage":           (*GroupChatServer).EditMessage,
	"SetTyping":             (*GroupChatServer).SetTyping,
	"SendSystemMessage":     (*GroupChatServer).SendSystemMessage,
	"Register":              (*GroupChatServer).Register,
	"Login":                 (*GroupChatServer).Login,
	"Logout":                (*GroupChatServer).Logout,
	"ResetPassword":         (*GroupChatServer).ResetPassword,
	"ConfirmPasswordReset":  (*GroupChatServer).ConfirmPasswordReset,
	"GetSettings":           (*GroupChatServer).GetSettings,
	"SaveSettings":          (*GroupChatServer).SaveSettings,
	"UpdateSetting":         (*GroupChatServer).UpdateSetting,
}

func unary(name string, h handlerFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*GroupChatServer)
			if interceptor == nil {
				return h(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return h(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ServiceDesc describes the service for grpc.Server.RegisterService.
func ServiceDesc() *grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(handlers))
	for name, h := range handlers {
		methods = append(methods, unary(name, h))
	}
	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*interface{})(nil),
		Methods:     methods,
		Metadata:    "groupchat/v1/groupchat.proto",
	}
}

func RegisterGroupChatServer(r grpc.ServiceRegistrar, s *GroupChatServer) {
	r.RegisterService(ServiceDesc(), s)
}

// NewGRPCServer builds a grpc.Server serving s with request logging.
func NewGRPCServer(s *GroupChatServer, logger *logrus.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.UnaryInterceptor(loggingInterceptor(logger)))
	srv := grpc.NewServer(opts...)
	RegisterGroupChatServer(srv, s)
	return srv
}

func loggingInterceptor(logger *logrus.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		entry := logger.
			WithField("method", info.FullMethod).
			WithField("code", status.Code(err).String()).
			WithField("duration", time.Since(start))
		if status.Code(err) == codes.Internal {
			entry.WithError(err).Error("request failed")
		} else {
			entry.Debug("request handled")
		}
		return resp, err
	}
}

// actor returns the acting user id from the incoming metadata.
func actor(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingActor
	}
	for _, v := range md.Get(UserIDHeader) {
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", ErrMissingActor
}

func rejected(op string) error {
	return fmt.Errorf("%w: %s", ErrRejected, op)
}

func wrapError(err error) error {
	errorMapper := []struct {
		from error
		to   codes.Code
	}{
		{from: ErrMissingActor, to: codes.Unauthenticated},
		{from: ErrInvalidRequest, to: codes.InvalidArgument},
		{from: ErrRejected, to: codes.FailedPrecondition},
		{from: ErrBadCredentials, to: codes.Unauthenticated},
		{from: ErrUnavailable, to: codes.Unavailable},
	}

	if err == nil {
		return nil
	}

	for _, mapping := range errorMapper {
		if errors.Is(err, mapping.from) {
			return status.Error(mapping.to, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alexnthnz/notification-engine/internal/dispatch"
	"github.com/alexnthnz/notification-engine/internal/monitoring"
	"github.com/alexnthnz/notification-engine/internal/notification"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "notification.v1.NotificationService"

// UserMetadataKey carries the requesting user
const UserMetadataKey = "x-user-id"

// NotificationServiceServer is the server API of the notification service.
// Every message is a google.protobuf.Struct holding the JSON shape of the
// matching REST payload.
type NotificationServiceServer interface {
	CreateNotification(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetNotification(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListNotifications(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	MarkRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	MarkAllRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DeleteNotification(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SendNow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelNotification(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Server implements the NotificationService gRPC server
type Server struct {
	engine  *dispatch.Engine
	service *notification.Service
	logger  *zap.Logger
}

var _ NotificationServiceServer = (*Server)(nil)

// NewServer creates a new gRPC server
func NewServer(engine *dispatch.Engine, service *notification.Service, logger *zap.Logger) *Server {
	return &Server{
		engine:  engine,
		service: service,
		logger:  logger,
	}
}

// RegisterNotificationServiceServer registers srv on s
func RegisterNotificationServiceServer(s grpc.ServiceRegistrar, srv NotificationServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// CreateNotification creates a notification and dispatches it when due
func (s *Server) CreateNotification(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	var in notification.CreateRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	if in.UserID == "" {
		in.UserID = caller
	}

	n, err := s.engine.CreateNotification(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(n)
}

// GetNotification retrieves one of the caller's notifications
func (s *Server) GetNotification(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, in, err := s.idCall(ctx, req)
	if err != nil {
		return nil, err
	}
	n, err := s.service.GetNotification(ctx, in.ID, caller)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(n)
}

// ListNotifications returns one page of the caller's notifications
func (s *Server) ListNotifications(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	var in listRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}

	result, err := s.service.ListNotifications(ctx, caller, in.filter())
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(result)
}

// MarkRead marks one notification read
func (s *Server) MarkRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, in, err := s.idCall(ctx, req)
	if err != nil {
		return nil, err
	}
	n, err := s.service.MarkRead(ctx, in.ID, caller)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(n)
}

// MarkAllRead marks all of the caller's notifications read
func (s *Server) MarkAllRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	count, err := s.service.MarkAllRead(ctx, caller)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(map[string]int{"updated_count": count})
}

// DeleteNotification soft-deletes, or with permanent set purges, a notification
func (s *Server) DeleteNotification(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, in, err := s.idCall(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.service.Delete(ctx, in.ID, caller, in.Permanent); err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(map[string]bool{"deleted": true})
}

// SendNow sends one notification to each listed user
func (s *Server) SendNow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	var in notification.SendRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}

	result, err := s.engine.SendNow(ctx, in, caller)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(result)
}

// GetStats returns the caller's notification statistics
func (s *Server) GetStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.service.GetStats(ctx, caller)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(stats)
}

// CancelNotification cancels a pending notification
func (s *Server) CancelNotification(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, in, err := s.idCall(ctx, req)
	if err != nil {
		return nil, err
	}
	n, err := s.engine.Cancel(ctx, in.ID, caller)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResponse(n)
}

func (s *Server) idCall(ctx context.Context, req *structpb.Struct) (string, idRequest, error) {
	var in idRequest
	caller, err := callerID(ctx)
	if err != nil {
		return "", in, err
	}
	if err := decodeRequest(req, &in); err != nil {
		return "", in, err
	}
	if in.ID == "" {
		return "", in, status.Error(codes.InvalidArgument, "id is required")
	}
	return caller, in, nil
}

// callerID reads the requesting user from incoming metadata
func callerID(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if v := md.Get(UserMetadataKey); len(v) > 0 && v[0] != "" {
			return v[0], nil
		}
	}
	return "", status.Errorf(codes.Unauthenticated, "missing %s metadata", UserMetadataKey)
}

// UnaryInterceptor logs every call and records its latency
func UnaryInterceptor(logger *zap.Logger, metrics *monitoring.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		if metrics != nil {
			metrics.RecordProcessingDuration("grpc "+info.FullMethod, duration)
		}
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", duration),
		}
		if code == codes.Internal {
			logger.Error("gRPC request failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("gRPC request", fields...)
		}
		return resp, err
	}
}

type unaryCall func(srv NotificationServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(NotificationServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(NotificationServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NotificationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateNotification", NotificationServiceServer.CreateNotification),
		unaryHandler("GetNotification", NotificationServiceServer.GetNotification),
		unaryHandler("ListNotifications", NotificationServiceServer.ListNotifications),
		unaryHandler("MarkRead", NotificationServiceServer.MarkRead),
		unaryHandler("MarkAllRead", NotificationServiceServer.MarkAllRead),
		unaryHandler("DeleteNotification", NotificationServiceServer.DeleteNotification),
		unaryHandler("SendNow", NotificationServiceServer.SendNow),
		unaryHandler("GetStats", NotificationServiceServer.GetStats),
		unaryHandler("CancelNotification", NotificationServiceServer.CancelNotification),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "notification/v1/notification.proto",
}

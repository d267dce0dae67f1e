package grpc

import (
	"encoding/json"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alexnthnz/notification-engine/internal/notification"
)

// idRequest addresses a single notification
type idRequest struct {
	ID        string `json:"id"`
	Permanent bool   `json:"permanent,omitempty"`
}

// listRequest carries list filters. Field names match the REST query parameters.
type listRequest struct {
	Type         notification.Type               `json:"type,omitempty"`
	Priority     notification.Priority           `json:"priority,omitempty"`
	Status       notification.NotificationStatus `json:"status,omitempty"`
	IsRead       *bool                           `json:"is_read,omitempty"`
	IsArchived   *bool                           `json:"is_archived,omitempty"`
	ResourceType string                          `json:"resource_type,omitempty"`
	Search       string                          `json:"search,omitempty"`
	Page         int                             `json:"page,omitempty"`
	PageSize     int                             `json:"page_size,omitempty"`
	SortBy       string                          `json:"sort_by,omitempty"`
	SortOrder    string                          `json:"sort_order,omitempty"`
}

func (r listRequest) filter() notification.ListFilter {
	return notification.ListFilter{
		Type:         r.Type,
		Priority:     r.Priority,
		Status:       r.Status,
		IsRead:       r.IsRead,
		IsArchived:   r.IsArchived,
		ResourceType: r.ResourceType,
		Search:       r.Search,
		Page:         r.Page,
		PageSize:     r.PageSize,
		SortBy:       r.SortBy,
		SortOrder:    r.SortOrder,
	}
}

// decodeRequest converts a Struct message into a request type through its JSON form
func decodeRequest(in *structpb.Struct, dst any) error {
	if in == nil {
		return nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

// encodeResponse converts a response value into a Struct message through its JSON form
func encodeResponse(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// toStatus maps the error taxonomy to gRPC status codes
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, notification.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, notification.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, notification.ErrDispatchInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, notification.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

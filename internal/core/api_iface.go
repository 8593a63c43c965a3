package core

import (
	"context"

	"github.com/arklight/callwire/internal/domain"
)

// InitiateRequest mirrors POST /call/initiate. Exactly one of ReceiverID or
// GroupID is set.
type InitiateRequest struct {
	ReceiverID domain.UserID    `json:"receiverId,omitempty"`
	GroupID    domain.GroupID   `json:"groupId,omitempty"`
	CallType   domain.MediaKind `json:"callType"`
}

// CallAPI is the REST surface the coordinator consumes. Persistence of
// calls lives behind it; the coordinator only sees descriptors.
type CallAPI interface {
	Initiate(ctx context.Context, req InitiateRequest) (*domain.Call, error)
	Answer(ctx context.Context, id domain.CallID) error
	Decline(ctx context.Context, id domain.CallID, reason string) error
	End(ctx context.Context, id domain.CallID) error
}

package http

import (
	"context"
	"io"

	"github.com/facial-sign-on/internal/domain"
	"github.com/facial-sign-on/internal/infrastructure/axiam"
)

// UserRepository is the minimal interface the router requires from a user store.
type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByClientID(ctx context.Context, clientID string) (*domain.User, error)
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
	// BindClientID sets the client id only while none is bound.
	BindClientID(ctx context.Context, userID, clientID string) error
}

// SessionRepository is the minimal interface the router requires from a session store.
type SessionRepository interface {
	Put(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Disable(ctx context.Context, sessionID string) error
}

// Vendor is the Axiam surface used across the login, relay and signup flows.
type Vendor interface {
	AuthToken(ctx context.Context) (string, error)
	LookupClient(ctx context.Context, email string) (*axiam.Response, error)
	PushNotification(ctx context.Context, clientID string) (*axiam.PushResult, error)
	ValidateSession(ctx context.Context, sessionToken, clientID string) error
	CreateClient(ctx context.Context, email, fullName string) (*axiam.ClientRecord, error)
	GenerateQRCode(ctx context.Context, clientID, flowType string) (*axiam.Response, error)
}

// ObjectStore is the minimal interface the router requires from an object storage backend.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

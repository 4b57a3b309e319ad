package api

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"

	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
	"github.com/Maphikza/sheet-wallet/internal/metrics"
	"github.com/Maphikza/sheet-wallet/internal/reconcile"
	"github.com/Maphikza/sheet-wallet/internal/schema"
)

// Backend is the engine surface the HTTP API drives.
type Backend interface {
	ListRequests(ctx context.Context) ([]schema.PendingRequest, error)
	ResolveRequest(ctx context.Context, requestID string, approve bool) error
	ListConnections(ctx context.Context) ([]schema.Connection, error)
	Connect(ctx context.Context, uri string) (string, error)
	Refresh(ctx context.Context) (bool, error)
	Sweep(ctx context.Context) (reconcile.Result, error)
	Status(ctx context.Context) (WalletStatus, error)
}

// WalletStatus is the daemon summary returned by /status and the status
// IPC command.
type WalletStatus struct {
	Address         string    `json:"address"`
	ChainID         int64     `json:"chain_id"`
	Balance         string    `json:"balance,omitempty"`
	Connections     int       `json:"connections"`
	PendingRequests int       `json:"pending_requests"`
	LastRefresh     time.Time `json:"last_refresh,omitempty"`
}

type Config struct {
	Backend       Backend
	Challenges    *sheetdb.ChallengeStore
	Metrics       *metrics.Metrics
	UserPubkey    string
	AllowedOrigin string
	JWTKey        []byte
	Logger        zerolog.Logger
}

type API struct {
	backend       Backend
	challenges    *sheetdb.ChallengeStore
	metrics       *metrics.Metrics
	userPubkey    string
	allowedOrigin string
	jwtKey        []byte
	logger        zerolog.Logger
	now           func() time.Time
}

// JWT Claims
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type ConnectRequest struct {
	URI string `json:"uri"`
}

type ConnectResponse struct {
	ConnectionID string `json:"connection_id"`
}

type ResolveResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type RefreshResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type contextKey string

const requestIDKey contextKey = "requestID"

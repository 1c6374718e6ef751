// Package store persists chats, messages and per-user cost totals.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samsaffron/relaychat/internal/config"
	"github.com/samsaffron/relaychat/internal/usage"
)

// ErrNotFound is returned when a chat does not exist.
var ErrNotFound = errors.New("not found")

// Store is the interface for chat persistence.
type Store interface {
	usage.CostSink

	// Chats
	CreateChat(ctx context.Context, ownerID, title string) (*Chat, error)
	GetChat(ctx context.Context, id string) (*Chat, error)
	ListChats(ctx context.Context, ownerID string, limit int) ([]Chat, error)
	UpdateChatTitle(ctx context.Context, id, title string) error

	// Messages
	AppendMessage(ctx context.Context, chatID string, msg *Message) error
	GetMessages(ctx context.Context, chatID string) ([]Message, error)

	// Cumulative cost; AddUserCost comes from usage.CostSink.
	UserCost(ctx context.Context, userID string) (float64, error)

	Close() error
}

// GetDataDir returns the XDG data directory for relaychat.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "relaychat"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "relaychat"), nil
}

// GetDBPath returns the path to the chats database.
func GetDBPath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "chats.db"), nil
}

// NewStore creates a new Store based on the configuration.
// If storage is disabled, returns a no-op store.
func NewStore(cfg config.StoreConfig) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}

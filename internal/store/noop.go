package store

import "context"

// NoopStore is a no-op implementation of Store used when storage is disabled.
// It silently discards all writes and returns empty results for reads.
type NoopStore struct{}

func (s *NoopStore) CreateChat(ctx context.Context, ownerID, title string) (*Chat, error) {
	return &Chat{ID: NewID(), OwnerID: ownerID, Title: title}, nil
}

func (s *NoopStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	return nil, ErrNotFound
}

func (s *NoopStore) ListChats(ctx context.Context, ownerID string, limit int) ([]Chat, error) {
	return nil, nil
}

func (s *NoopStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	return nil
}

func (s *NoopStore) AppendMessage(ctx context.Context, chatID string, msg *Message) error {
	return nil
}

func (s *NoopStore) GetMessages(ctx context.Context, chatID string) ([]Message, error) {
	return nil, nil
}

func (s *NoopStore) AddUserCost(ctx context.Context, userID string, delta float64) (float64, error) {
	return 0, nil
}

func (s *NoopStore) UserCost(ctx context.Context, userID string) (float64, error) {
	return 0, nil
}

func (s *NoopStore) Close() error {
	return nil
}

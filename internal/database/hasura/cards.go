package hasura

import (
	"context"

	"github.com/kozaktomas/consent-audit/internal/database"
)

// GetCard returns a card with its project.
func (s *Store) GetCard(ctx context.Context, cardID string) (*database.Card, error) {
	return byPK[database.Card](ctx, s, "cards", "card_id", cardID, "card_id project_id name status")
}

// UpdateCardStatus sets the card's processing status.
func (s *Store) UpdateCardStatus(ctx context.Context, cardID string, status database.CardStatus) error {
	if !validID(cardID) {
		return database.ErrNotFound
	}
	n, err := s.update(ctx, "cards", map[string]any{"card_id": eq(cardID)}, map[string]any{"status": status})
	if err != nil {
		return err
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// GetCardConfig returns the stored config map of a card.
func (s *Store) GetCardConfig(ctx context.Context, cardID string) (map[string]any, error) {
	if !validID(cardID) {
		return nil, database.ErrNotFound
	}
	rows, err := list[struct {
		Config map[string]any `json:"config"`
	}](ctx, s, "card_configs", "config", map[string]any{"card_id": eq(cardID)}, listOptions{limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, database.ErrNotFound
	}
	cfg := rows[0].Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	// nulls mean "not configured" and must not shadow defaults
	for k, v := range cfg {
		if v == nil {
			delete(cfg, k)
		}
	}
	return cfg, nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/consent-audit/internal/database"
)

// GetCard returns a card with its project.
func (s *Store) GetCard(ctx context.Context, cardID string) (*database.Card, error) {
	if !validID(cardID) {
		return nil, database.ErrNotFound
	}
	var (
		c         database.Card
		projectID sql.NullString
		status    sql.NullString
	)
	err := s.pool.QueryRow(ctx,
		"SELECT card_id, project_id, name, status FROM cards WHERE card_id = $1", cardID,
	).Scan(&c.ID, &projectID, &c.Name, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query card: %w", err)
	}
	c.ProjectID = projectID.String
	c.Status = database.CardStatus(status.String)
	return &c, nil
}

// UpdateCardStatus sets the card's processing status.
func (s *Store) UpdateCardStatus(ctx context.Context, cardID string, status database.CardStatus) error {
	if !validID(cardID) {
		return database.ErrNotFound
	}
	res, err := s.pool.Exec(ctx, "UPDATE cards SET status = $2 WHERE card_id = $1", cardID, status)
	if err != nil {
		return fmt.Errorf("update card status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// GetCardConfig returns the stored config map of a card.
func (s *Store) GetCardConfig(ctx context.Context, cardID string) (map[string]any, error) {
	if !validID(cardID) {
		return nil, database.ErrNotFound
	}
	var raw []byte
	err := s.pool.QueryRow(ctx, "SELECT config FROM card_configs WHERE card_id = $1", cardID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query card config: %w", err)
	}
	cfg := map[string]any{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode card config: %w", err)
	}
	return cfg, nil
}

// CreateProject inserts a project and returns its id.
func (s *Store) CreateProject(ctx context.Context, name string) (string, error) {
	id := newID()
	if _, err := s.pool.Exec(ctx, "INSERT INTO projects (project_id, name) VALUES ($1, $2)", id, name); err != nil {
		return "", fmt.Errorf("insert project: %w", err)
	}
	return id, nil
}

// CreateCard inserts a card of a project together with its config and returns its id.
func (s *Store) CreateCard(ctx context.Context, projectID, name string, cfg map[string]any) (string, error) {
	if cfg == nil {
		cfg = map[string]any{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode card config: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id := newID()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO cards (card_id, project_id, name) VALUES ($1, $2, $3)",
		id, nullString(projectID), name,
	); err != nil {
		return "", fmt.Errorf("insert card: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO card_configs (config_id, card_id, config) VALUES ($1, $2, $3)",
		newID(), id, string(raw),
	); err != nil {
		return "", fmt.Errorf("insert card config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit card: %w", err)
	}
	return id, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	pkgerrors "brokerops/pkg/errors"
)

// AgentDirectory resolves a free-form assignee hint ("@sarah", an email,
// a phone number) to a known agent id.
type AgentDirectory interface {
	ResolveAgent(ctx context.Context, hint string) (string, error)
}

type PostgresAgentDirectory struct {
	db *sql.DB
}

func NewAgentDirectory(db *sql.DB) *PostgresAgentDirectory {
	return &PostgresAgentDirectory{db: db}
}

// ResolveAgent tries, in order: exact email match when the hint looks
// like an email, phone suffix match when it carries ten or more digits,
// exact name match, then partial case-insensitive name match. Returns
// ErrNotFound when nothing matches.
func (d *PostgresAgentDirectory) ResolveAgent(ctx context.Context, hint string) (string, error) {
	hint = strings.TrimSpace(strings.TrimPrefix(hint, "@"))
	if hint == "" {
		return "", pkgerrors.ErrNotFound
	}

	if strings.Contains(hint, "@") {
		id, err := d.lookup(ctx, `SELECT id FROM agents WHERE email = $1`, hint)
		if err == nil {
			return id, nil
		}
		if !pkgerrors.IsNotFound(err) {
			return "", err
		}
	}

	if digits := digitsOf(hint); len(digits) >= 10 {
		id, err := d.lookup(ctx, `SELECT id FROM agents WHERE phone LIKE '%' || $1`, digits[len(digits)-10:])
		if err == nil {
			return id, nil
		}
		if !pkgerrors.IsNotFound(err) {
			return "", err
		}
	}

	id, err := d.lookup(ctx, `SELECT id FROM agents WHERE name = $1`, hint)
	if err == nil {
		return id, nil
	}
	if !pkgerrors.IsNotFound(err) {
		return "", err
	}

	return d.lookup(ctx, `SELECT id FROM agents WHERE name ILIKE '%' || $1 || '%' ORDER BY name LIMIT 1`, hint)
}

func (d *PostgresAgentDirectory) lookup(ctx context.Context, query, arg string) (string, error) {
	var id string
	err := d.db.QueryRowContext(ctx, query, arg).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", pkgerrors.ErrNotFound.WithCause(err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve agent: %w", err)
	}
	return id, nil
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/storage"
	"oidcprovider/internal/storage/postgres"
)

const clientNameConstraint = "oauth_clients_name_key"

const clientColumns = `id, client_id, owner_id, name, secret_hash, redirect_uris, scope, default_scope,
	auto_grant, image_url, last_used_at, created_at`

// ClientRepository stores registered relying parties
type ClientRepository struct {
	db *postgres.ExtPool
}

// NewClientRepository creates new instance of ClientRepository
func NewClientRepository(db *postgres.ExtPool) *ClientRepository {
	return &ClientRepository{
		db: db,
	}
}

func scanClient(row scanner) (*models.Client, error) {
	var (
		c            models.Client
		sc, defaults []string
	)
	err := row.Scan(
		&c.ID, &c.ClientID, &c.OwnerID, &c.Name, &c.SecretHash, &c.RedirectURIs, &sc, &defaults,
		&c.AutoGrant, &c.ImageURL, &c.LastUsedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Scope = toSet(sc)
	c.DefaultScope = toSet(defaults)
	return &c, nil
}

// ClientByClientID gets a client by its external identifier
func (r *ClientRepository) ClientByClientID(ctx context.Context, clientID string) (*models.Client, error) {
	const op = "storage.repositories.ClientByClientID"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	client, err := scanClient(r.db.QueryRow(
		ctx,
		`SELECT `+clientColumns+` FROM oauth_clients WHERE client_id = $1`,
		clientID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrClientNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return client, nil
}

// ClientsByOwner lists the clients registered by one owner
func (r *ClientRepository) ClientsByOwner(ctx context.Context, ownerID int64) ([]models.Client, error) {
	const op = "storage.repositories.ClientsByOwner"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(
		ctx,
		`SELECT `+clientColumns+` FROM oauth_clients WHERE owner_id = $1 ORDER BY created_at`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		clients = append(clients, *client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return clients, nil
}

// CreateClient inserts a client while holding a per-owner advisory lock so the limit check cannot race
func (r *ClientRepository) CreateClient(ctx context.Context, client *models.Client, limit int) (int64, error) {
	const op = "storage.repositories.CreateClient"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, client.OwnerID); err != nil {
			return err
		}
		var owned int
		if err := tx.QueryRow(
			ctx,
			`SELECT count(*) FROM oauth_clients WHERE owner_id = $1`,
			client.OwnerID,
		).Scan(&owned); err != nil {
			return err
		}
		if owned >= limit {
			return storage.ErrClientLimitReached
		}
		return tx.QueryRow(
			ctx,
			`INSERT INTO oauth_clients
				(client_id, owner_id, name, secret_hash, redirect_uris, scope, default_scope, auto_grant, image_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at`,
			client.ClientID, client.OwnerID, client.Name, client.SecretHash, client.RedirectURIs,
			client.Scope.Strings(), client.DefaultScope.Strings(), client.AutoGrant, client.ImageURL,
		).Scan(&client.ID, &client.CreatedAt)
	})
	if err != nil {
		if postgres.IsUniqueViolation(err, clientNameConstraint) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrClientNameTaken)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return client.ID, nil
}

// UpdateClient rewrites the owner editable fields; auto_grant is operator managed and never touched here
func (r *ClientRepository) UpdateClient(ctx context.Context, client *models.Client) error {
	const op = "storage.repositories.UpdateClient"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	tag, err := r.db.Exec(
		ctx,
		`UPDATE oauth_clients
		SET name = $3, secret_hash = $4, redirect_uris = $5, scope = $6, default_scope = $7, image_url = $8
		WHERE client_id = $1 AND owner_id = $2`,
		client.ClientID, client.OwnerID, client.Name, client.SecretHash, client.RedirectURIs,
		client.Scope.Strings(), client.DefaultScope.Strings(), client.ImageURL,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, clientNameConstraint) {
			return fmt.Errorf("%s: %w", op, storage.ErrClientNameTaken)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrClientNotFound)
	}
	return nil
}

// DeleteClient removes an owned client, cascading to its consents and artifacts
func (r *ClientRepository) DeleteClient(ctx context.Context, ownerID int64, clientID string) (bool, error) {
	const op = "storage.repositories.DeleteClient"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	tag, err := r.db.Exec(
		ctx,
		`DELETE FROM oauth_clients WHERE client_id = $1 AND owner_id = $2`,
		clientID, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchClient records the last time the client was used
func (r *ClientRepository) TouchClient(ctx context.Context, id int64, at time.Time) error {
	const op = "storage.repositories.TouchClient"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	if _, err := r.db.Exec(ctx, `UPDATE oauth_clients SET last_used_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

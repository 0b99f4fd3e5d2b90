package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	owner_id   TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS agreements (
	project_id  TEXT NOT NULL REFERENCES projects(id),
	identity_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	PRIMARY KEY (project_id, identity_id)
);
`

// SQLiteGate stores projects and agreements next to the tasks.
type SQLiteGate struct {
	db *sql.DB
}

// NewSQLiteGate ensures the access tables exist in db. The caller owns db.
func NewSQLiteGate(db *sql.DB) (*SQLiteGate, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create access schema: %w", err)
	}
	return &SQLiteGate{db: db}, nil
}

// CanAccessProject reports whether id owns projectID or has an accepted agreement.
func (g *SQLiteGate) CanAccessProject(ctx context.Context, id Identity, projectID string) (bool, error) {
	var ok bool
	err := g.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM projects WHERE id = ? AND owner_id = ?)
		    OR EXISTS(SELECT 1 FROM agreements WHERE project_id = ? AND identity_id = ? AND status = ?)`,
		projectID, id.ID, projectID, id.ID, string(AgreementAccepted),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query access: %w", err)
	}
	return ok, nil
}

// CreateProject inserts p or updates its name and owner.
func (g *SQLiteGate) CreateProject(ctx context.Context, p Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, owner_id, created_at) VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, owner_id = excluded.owner_id`,
		p.ID, p.Name, p.OwnerID, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (g *SQLiteGate) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var p Project
	err := g.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM projects WHERE id = ?`, projectID,
	).Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	return &p, nil
}

// ProposeAgreement records a pending agreement unless one already exists.
func (g *SQLiteGate) ProposeAgreement(ctx context.Context, projectID, identityID string) error {
	if _, err := g.GetProject(ctx, projectID); err != nil {
		return err
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO agreements (project_id, identity_id, status, created_at) VALUES (?,?,?,?)
		ON CONFLICT(project_id, identity_id) DO NOTHING`,
		projectID, identityID, string(AgreementPending), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("propose agreement: %w", err)
	}
	return nil
}

// AcceptAgreement marks an existing agreement accepted.
func (g *SQLiteGate) AcceptAgreement(ctx context.Context, projectID, identityID string) error {
	res, err := g.db.ExecContext(ctx,
		`UPDATE agreements SET status = ? WHERE project_id = ? AND identity_id = ?`,
		string(AgreementAccepted), projectID, identityID,
	)
	if err != nil {
		return fmt.Errorf("accept agreement: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAgreementNotFound
	}
	return nil
}

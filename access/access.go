// Package access decides which identities may subscribe to a project room.
// An identity may access a project when it owns it or holds an accepted
// collaboration agreement on it.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes human users from autonomous agents.
type Kind string

const (
	KindUser  Kind = "user"
	KindAgent Kind = "agent"
)

// Identity is the authenticated principal behind a connection.
type Identity struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

func (i Identity) String() string {
	return string(i.Kind) + ":" + i.ID
}

// AgreementStatus is the state of a collaboration agreement.
type AgreementStatus string

const (
	AgreementPending  AgreementStatus = "pending"
	AgreementAccepted AgreementStatus = "accepted"
	AgreementDeclined AgreementStatus = "declined"
)

// Project is a board room and its owner.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrAgreementNotFound = errors.New("agreement not found")
)

// Gate answers the subscription-time access question.
type Gate interface {
	CanAccessProject(ctx context.Context, id Identity, projectID string) (bool, error)
}

// Repository manages projects and agreements.
type Repository interface {
	Gate

	// CreateProject inserts p or updates its name and owner if it exists.
	CreateProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, projectID string) (*Project, error)
	// ProposeAgreement records a pending agreement unless one already exists.
	ProposeAgreement(ctx context.Context, projectID, identityID string) error
	AcceptAgreement(ctx context.Context, projectID, identityID string) error
}

// Grant proposes and accepts an agreement in one step.
func Grant(ctx context.Context, r Repository, projectID, identityID string) error {
	if err := r.ProposeAgreement(ctx, projectID, identityID); err != nil {
		return err
	}
	return r.AcceptAgreement(ctx, projectID, identityID)
}

// Allowed wraps g and turns gate failures into denial.
func Allowed(ctx context.Context, g Gate, id Identity, projectID string) (bool, error) {
	if id.ID == "" || projectID == "" {
		return false, nil
	}
	ok, err := g.CanAccessProject(ctx, id, projectID)
	if err != nil {
		return false, fmt.Errorf("access check %s on %s: %w", id, projectID, err)
	}
	return ok, nil
}

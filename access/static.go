package access

import (
	"context"
	"sync"
	"time"
)

// StaticGate keeps projects and agreements in memory. It backs the memory
// store mode and tests.
type StaticGate struct {
	mu         sync.RWMutex
	projects   map[string]Project
	agreements map[string]map[string]AgreementStatus // project -> identity -> status
}

// NewStaticGate returns an empty gate that denies everything.
func NewStaticGate() *StaticGate {
	return &StaticGate{
		projects:   make(map[string]Project),
		agreements: make(map[string]map[string]AgreementStatus),
	}
}

func (g *StaticGate) CanAccessProject(_ context.Context, id Identity, projectID string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.projects[projectID]
	if !ok {
		return false, nil
	}
	if p.OwnerID == id.ID {
		return true, nil
	}
	return g.agreements[projectID][id.ID] == AgreementAccepted, nil
}

func (g *StaticGate) CreateProject(_ context.Context, p Project) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.projects[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	g.projects[p.ID] = p
	return nil
}

func (g *StaticGate) GetProject(_ context.Context, projectID string) (*Project, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.projects[projectID]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return &p, nil
}

func (g *StaticGate) ProposeAgreement(_ context.Context, projectID, identityID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.projects[projectID]; !ok {
		return ErrProjectNotFound
	}
	m := g.agreements[projectID]
	if m == nil {
		m = make(map[string]AgreementStatus)
		g.agreements[projectID] = m
	}
	if _, exists := m[identityID]; !exists {
		m[identityID] = AgreementPending
	}
	return nil
}

func (g *StaticGate) AcceptAgreement(_ context.Context, projectID, identityID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.agreements[projectID]
	if _, ok := m[identityID]; !ok {
		return ErrAgreementNotFound
	}
	m[identityID] = AgreementAccepted
	return nil
}

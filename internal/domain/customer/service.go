package customer

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const maxNameLen = 100

// ValidationError describes a rejected customer field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CreateRequest holds the input for registering a customer.
type CreateRequest struct {
	Name    string
	Email   string
	Segment Segment
}

// Service encapsulates customer registration and lookup.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a customer Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create validates the request and persists a new customer.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Customer, error) {
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		return nil, &ValidationError{Field: "name", Reason: "required"}
	case len(name) > maxNameLen:
		return nil, &ValidationError{Field: "name", Reason: fmt.Sprintf("longer than %d characters", maxNameLen)}
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return nil, &ValidationError{Field: "email", Reason: "not an email address"}
		}
	}
	if !req.Segment.Valid() {
		return nil, &ValidationError{Field: "segment", Reason: "unknown segment"}
	}

	c := &Customer{
		Name:      name,
		Email:     req.Email,
		Segment:   req.Segment,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return c, nil
}

// Get returns a customer by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Customer, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns all customers.
func (s *Service) List(ctx context.Context) ([]Customer, error) {
	return s.repo.List(ctx)
}

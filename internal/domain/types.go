package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Contains reports whether value falls inside the inclusive range. Open ends always match.
func (r RangeQuery[T]) Contains(value T, less func(a, b T) bool) bool {
	if r.From != nil && less(value, *r.From) {
		return false
	}
	if r.To != nil && less(*r.To, value) {
		return false
	}
	return true
}

// CursorPage captures a paginated response with a continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// TimeBefore is the ordering helper used with RangeQuery[time.Time].
func TimeBefore(a, b time.Time) bool {
	return a.Before(b)
}

// ActorType identifies who initiated a mutation.
type ActorType string

const (
	// ActorTypeUser is an authenticated end user acting on their own resources.
	ActorTypeUser ActorType = "user"
	// ActorTypeAdmin is a staff member or administrator.
	ActorTypeAdmin ActorType = "admin"
	// ActorTypeSystem covers webhooks, scheduled sweeps and cascades.
	ActorTypeSystem ActorType = "system"
)

// Valid reports whether the actor type is one of the known values.
func (a ActorType) Valid() bool {
	switch a {
	case ActorTypeUser, ActorTypeAdmin, ActorTypeSystem:
		return true
	}
	return false
}

// Actor describes the principal performing an operation.
type Actor struct {
	ID   string
	Type ActorType
}

// SystemActor returns the actor used for automated transitions.
func SystemActor(id string) Actor {
	if id == "" {
		id = "system"
	}
	return Actor{ID: id, Type: ActorTypeSystem}
}

// Package storage provides the storage engine interface and implementations
// for NestHome.
//
// The store is a keyed record store: one serialized household record per
// household ID plus one credential per household. Writes are whole-record
// puts, so concurrent writers resolve as last-write-wins. Callers that need
// read-modify-write ordering serialize it themselves (see package nesthome).
//
// Example Usage:
//
//	engine, err := storage.NewBadgerEngine("./data/nesthome")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	h := household.New("", "Flat 3B", now)
//	if err := engine.PutHousehold(ctx, h); err != nil {
//		log.Fatal(err)
//	}
//	got, err := engine.GetHousehold(ctx, h.ID)
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/household"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidData   = errors.New("invalid data")
	ErrStorageClosed = errors.New("storage closed")
)

// Credential is the stored login secret of a household.
type Credential struct {
	HouseholdID    string    `json:"household_id"`
	PassHash       []byte    `json:"pass_hash"`
	FailedAttempts int       `json:"failed_attempts"`
	LockedUntil    time.Time `json:"locked_until,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastLogin      time.Time `json:"last_login,omitempty"`
}

// Engine is the persistence contract used by the rest of the system.
//
// Implementations must be safe for concurrent use. Get methods return
// ErrNotFound for unknown IDs; every method returns ErrStorageClosed after
// Close.
type Engine interface {
	GetHousehold(ctx context.Context, id string) (household.Household, error)
	PutHousehold(ctx context.Context, h household.Household) error
	DeleteHousehold(ctx context.Context, id string) error
	ListHouseholds(ctx context.Context) ([]string, error)

	GetCredential(ctx context.Context, householdID string) (Credential, error)
	PutCredential(ctx context.Context, c Credential) error

	Close() error
}

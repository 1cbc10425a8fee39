// Package store is the persistence layer for ingested reports, recurring job
// definitions, alert state and run history.
package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// DefaultClaimLease bounds how long a crashed run can keep an item claimed.
const DefaultClaimLease = 15 * time.Minute

// ErrClaimLost is returned when a run tries to complete an item whose claim
// it no longer holds.
var ErrClaimLost = errors.New("claim no longer held")

type Store struct {
	db    *gorm.DB
	lease time.Duration
}

func New(db *gorm.DB, claimLease time.Duration) *Store {
	if claimLease <= 0 {
		claimLease = DefaultClaimLease
	}
	return &Store{db: db, lease: claimLease}
}

// DB exposes the underlying handle for callers that need ad-hoc queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

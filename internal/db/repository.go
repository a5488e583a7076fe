package db

import (
	"go.uber.org/zap"
)

// Repository handles database operations for the notification engine:
// the sending policy singleton, the delivery journal and the user store
// backing eligibility queries.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository over the shared pool.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

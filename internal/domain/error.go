package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound         = errors.New("entity not found")
	ErrAlreadyExists    = errors.New("entity already exists")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrOrchestratorDown = errors.New("orchestrator has been torn down")
	ErrReadDatabaseRow  = errors.New("failed to read database row")
)

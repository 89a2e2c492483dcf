package category

import "errors"

// Sentinel errors for category specs and the registry.
var (
	ErrInvalidSpec      = errors.New("invalid category spec")
	ErrCategoryNotFound = errors.New("category not found")
)

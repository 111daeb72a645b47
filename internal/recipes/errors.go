package recipes

import "errors"

// Repository errors.
var (
	ErrRecipeNotFound = errors.New("recipe not found")
)

// Aggregate errors.
var (
	ErrItemNotFound = errors.New("no item with matching id")
)

// Validation errors.
var (
	ErrInvalidUnit = errors.New("invalid measuring unit")
	ErrEmptyBatch  = errors.New("at least one item is required")
	ErrEmptyName   = errors.New("name must not be blank")
	ErrOutOfRange  = errors.New("value out of range")
)

package domain

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Recipe is the root row of a recipe. OwnerID is nil for unowned recipes.
type Recipe struct {
	ID           int64     `json:"id"`
	OwnerID      *int64    `json:"owner_id"`
	Name         string    `json:"name"`
	Observations []string  `json:"observations"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Ingredient belongs to exactly one recipe. ID is unique within the recipe's
// ingredient list.
type Ingredient struct {
	ID       int64  `json:"id"`
	RecipeID int64  `json:"recipe_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     Unit   `json:"unit"`
}

// GetID returns the ingredient id.
func (i Ingredient) GetID() int64 {
	return i.ID
}

// Step belongs to exactly one recipe. ID is unique within the recipe's step
// list.
type Step struct {
	ID          int64  `json:"id"`
	RecipeID    int64  `json:"recipe_id"`
	Name        string `json:"name"`
	Instruction string `json:"instruction"`
	DurationMin int    `json:"duration_min"`
}

// GetID returns the step id.
func (s Step) GetID() int64 {
	return s.ID
}

// Unit is a measuring unit for ingredient quantities.
type Unit string

// Measuring units.
const (
	UnitTeaspoon   Unit = "teaspoon"
	UnitTablespoon Unit = "tablespoon"
	UnitCup        Unit = "cup"
	UnitOunce      Unit = "ounce"
	UnitGram       Unit = "gram"
	UnitKilogram   Unit = "kilogram"
	UnitLiter      Unit = "liter"
	UnitMilliliter Unit = "milliliter"
)

// IsValid checks if the unit is valid.
func (u Unit) IsValid() bool {
	switch u {
	case UnitTeaspoon, UnitTablespoon, UnitCup, UnitOunce,
		UnitGram, UnitKilogram, UnitLiter, UnitMilliliter:
		return true
	}
	return false
}

// NormalizeName trims surrounding whitespace and converts s to Unicode NFC so
// that visually equal names compare and search equally.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

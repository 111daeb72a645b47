package recipes

import (
	"github.com/bissquit/recipe-garden/internal/authz"
	"github.com/bissquit/recipe-garden/internal/domain"
)

// Identified is an element of an aggregate child list. IDs are unique within
// one list.
type Identified interface {
	GetID() int64
}

// ReplaceByID returns a copy of list with the element whose id equals
// item.GetID() replaced by item. Length and order are preserved. list is
// never modified.
func ReplaceByID[T Identified](list []T, item T) ([]T, error) {
	idx := indexOf(list, item.GetID())
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	out := make([]T, len(list))
	copy(out, list)
	out[idx] = item
	return out, nil
}

// RemoveByID returns a copy of list without the element with the given id.
func RemoveByID[T Identified](list []T, id int64) ([]T, error) {
	idx := indexOf(list, id)
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	out := make([]T, 0, len(list)-1)
	out = append(out, list[:idx]...)
	return append(out, list[idx+1:]...), nil
}

// GetByID returns a copy of the element with the given id.
func GetByID[T Identified](list []T, id int64) (T, error) {
	idx := indexOf(list, id)
	if idx < 0 {
		var zero T
		return zero, ErrItemNotFound
	}
	return list[idx], nil
}

// AppendNew returns a copy of list with item appended.
func AppendNew[T Identified](list []T, item T) []T {
	out := make([]T, len(list), len(list)+1)
	copy(out, list)
	return append(out, item)
}

func indexOf[T Identified](list []T, id int64) int {
	for i := range list {
		if list[i].GetID() == id {
			return i
		}
	}
	return -1
}

// Aggregate is a recipe together with its ingredients and steps, composed
// from storage for the duration of one request. It is a value: the mutation
// methods return a new Aggregate and leave the receiver unchanged.
//
// Storage stays the system of record. Edits persist only the changed child,
// so two concurrent edits of the same child are last-write-wins.
type Aggregate struct {
	Recipe      domain.Recipe       `json:"recipe"`
	Ingredients []domain.Ingredient `json:"ingredients"`
	Steps       []domain.Step       `json:"steps"`
	OwnerName   string              `json:"owner_name"`
}

// Ownership returns the ownership of the recipe, which also governs its
// ingredients and steps.
func (a Aggregate) Ownership() authz.OwnedResource {
	if a.Recipe.OwnerID == nil {
		return authz.Unowned()
	}
	return authz.Owned(*a.Recipe.OwnerID)
}

func (a Aggregate) Ingredient(id int64) (domain.Ingredient, error) {
	return GetByID(a.Ingredients, id)
}

func (a Aggregate) ReplaceIngredient(ing domain.Ingredient) (Aggregate, error) {
	list, err := ReplaceByID(a.Ingredients, ing)
	if err != nil {
		return a, err
	}
	a.Ingredients = list
	return a, nil
}

func (a Aggregate) RemoveIngredient(id int64) (Aggregate, error) {
	list, err := RemoveByID(a.Ingredients, id)
	if err != nil {
		return a, err
	}
	a.Ingredients = list
	return a, nil
}

func (a Aggregate) AddIngredients(items ...domain.Ingredient) Aggregate {
	list := a.Ingredients
	for _, it := range items {
		list = AppendNew(list, it)
	}
	a.Ingredients = list
	return a
}

func (a Aggregate) Step(id int64) (domain.Step, error) {
	return GetByID(a.Steps, id)
}

func (a Aggregate) ReplaceStep(step domain.Step) (Aggregate, error) {
	list, err := ReplaceByID(a.Steps, step)
	if err != nil {
		return a, err
	}
	a.Steps = list
	return a, nil
}

// ReplaceSteps replaces every given step. It fails without a partial result
// if any of them is missing.
func (a Aggregate) ReplaceSteps(steps []domain.Step) (Aggregate, error) {
	list := a.Steps
	for _, s := range steps {
		next, err := ReplaceByID(list, s)
		if err != nil {
			return a, err
		}
		list = next
	}
	a.Steps = list
	return a, nil
}

func (a Aggregate) RemoveStep(id int64) (Aggregate, error) {
	list, err := RemoveByID(a.Steps, id)
	if err != nil {
		return a, err
	}
	a.Steps = list
	return a, nil
}

func (a Aggregate) AddSteps(items ...domain.Step) Aggregate {
	list := a.Steps
	for _, it := range items {
		list = AppendNew(list, it)
	}
	a.Steps = list
	return a
}

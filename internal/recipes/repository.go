package recipes

import (
	"context"

	"github.com/bissquit/recipe-garden/internal/domain"
)

// Repository defines the interface for recipe data operations.
//
// Child update and delete methods return ErrItemNotFound when the row does
// not exist or belongs to another recipe.
type Repository interface {
	// CreateRecipe inserts the recipe and its children in one transaction and
	// fills in the generated ids and the children's RecipeID.
	CreateRecipe(ctx context.Context, recipe *domain.Recipe, ingredients []domain.Ingredient, steps []domain.Step) error
	GetRecipe(ctx context.Context, id int64) (*domain.Recipe, error)
	SearchRecipes(ctx context.Context, namePrefix string, limit int) ([]domain.Recipe, error)
	UpdateRecipe(ctx context.Context, recipe *domain.Recipe) error
	DeleteRecipe(ctx context.Context, id int64) error

	ListIngredients(ctx context.Context, recipeID int64) ([]domain.Ingredient, error)
	// CreateIngredients and CreateSteps fill in the generated ids.
	CreateIngredients(ctx context.Context, ingredients []domain.Ingredient) error
	UpdateIngredient(ctx context.Context, ingredient domain.Ingredient) error
	DeleteIngredient(ctx context.Context, recipeID, id int64) error

	ListSteps(ctx context.Context, recipeID int64) ([]domain.Step, error)
	CreateSteps(ctx context.Context, steps []domain.Step) error
	UpdateSteps(ctx context.Context, steps []domain.Step) error
	DeleteStep(ctx context.Context, recipeID, id int64) error

	// GetOwnerName returns the user name of the given user, or "" if the user
	// no longer exists.
	GetOwnerName(ctx context.Context, userID int64) (string, error)
}

// Package postgres provides PostgreSQL implementation of the recipes repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/recipe-garden/internal/domain"
	"github.com/bissquit/recipe-garden/internal/recipes"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements the recipes.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreateRecipe inserts a recipe with its ingredients and steps in one transaction.
func (r *Repository) CreateRecipe(ctx context.Context, recipe *domain.Recipe, ingredients []domain.Ingredient, steps []domain.Step) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO recipes (user_id, name, observations)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		recipe.OwnerID,
		recipe.Name,
		observations(recipe.Observations),
	).Scan(&recipe.ID, &recipe.CreatedAt, &recipe.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert recipe: %w", err)
	}

	for i := range ingredients {
		ingredients[i].RecipeID = recipe.ID
		if err := insertIngredient(ctx, tx, &ingredients[i]); err != nil {
			return err
		}
	}
	for i := range steps {
		steps[i].RecipeID = recipe.ID
		if err := insertStep(ctx, tx, &steps[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetRecipe retrieves a recipe row by its ID.
func (r *Repository) GetRecipe(ctx context.Context, id int64) (*domain.Recipe, error) {
	query := `
		SELECT id, user_id, name, observations, created_at, updated_at
		FROM recipes
		WHERE id = $1
	`
	var recipe domain.Recipe
	err := r.db.QueryRow(ctx, query, id).Scan(
		&recipe.ID,
		&recipe.OwnerID,
		&recipe.Name,
		&recipe.Observations,
		&recipe.CreatedAt,
		&recipe.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recipes.ErrRecipeNotFound
		}
		return nil, fmt.Errorf("get recipe by id: %w", err)
	}
	return &recipe, nil
}

// SearchRecipes lists recipes whose name starts with namePrefix, ignoring case.
func (r *Repository) SearchRecipes(ctx context.Context, namePrefix string, limit int) ([]domain.Recipe, error) {
	query := `
		SELECT id, user_id, name, observations, created_at, updated_at
		FROM recipes
		WHERE name ILIKE $1 ESCAPE '\'
		ORDER BY name, id
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, escapeLike(namePrefix)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search recipes: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Recipe, 0)
	for rows.Next() {
		var recipe domain.Recipe
		if err := rows.Scan(
			&recipe.ID,
			&recipe.OwnerID,
			&recipe.Name,
			&recipe.Observations,
			&recipe.CreatedAt,
			&recipe.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recipe: %w", err)
		}
		result = append(result, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipes: %w", err)
	}
	return result, nil
}

// UpdateRecipe updates name and observations. The owner column is never written.
func (r *Repository) UpdateRecipe(ctx context.Context, recipe *domain.Recipe) error {
	query := `
		UPDATE recipes
		SET name = $2, observations = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		recipe.ID,
		recipe.Name,
		observations(recipe.Observations),
	).Scan(&recipe.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return recipes.ErrRecipeNotFound
		}
		return fmt.Errorf("update recipe: %w", err)
	}
	return nil
}

// DeleteRecipe deletes a recipe; ingredients and steps cascade.
func (r *Repository) DeleteRecipe(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM recipes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}
	if result.RowsAffected() == 0 {
		return recipes.ErrRecipeNotFound
	}
	return nil
}

// ListIngredients lists the ingredients of a recipe in insertion order.
func (r *Repository) ListIngredients(ctx context.Context, recipeID int64) ([]domain.Ingredient, error) {
	query := `
		SELECT id, recipe_id, name, quantity, unit
		FROM recipe_ingredients
		WHERE recipe_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, recipeID)
	if err != nil {
		return nil, fmt.Errorf("list ingredients: %w", err)
	}
	defer rows.Close()

	ingredients := make([]domain.Ingredient, 0)
	for rows.Next() {
		var ing domain.Ingredient
		if err := rows.Scan(&ing.ID, &ing.RecipeID, &ing.Name, &ing.Quantity, &ing.Unit); err != nil {
			return nil, fmt.Errorf("scan ingredient: %w", err)
		}
		ingredients = append(ingredients, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingredients: %w", err)
	}
	return ingredients, nil
}

// CreateIngredients inserts ingredients in one transaction.
func (r *Repository) CreateIngredients(ctx context.Context, ingredients []domain.Ingredient) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range ingredients {
		if err := insertIngredient(ctx, tx, &ingredients[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateIngredient overwrites a single ingredient. There is no version check:
// the last writer wins.
func (r *Repository) UpdateIngredient(ctx context.Context, ing domain.Ingredient) error {
	query := `
		UPDATE recipe_ingredients
		SET name = $3, quantity = $4, unit = $5
		WHERE id = $1 AND recipe_id = $2
	`
	result, err := r.db.Exec(ctx, query, ing.ID, ing.RecipeID, ing.Name, ing.Quantity, ing.Unit)
	if err != nil {
		return fmt.Errorf("update ingredient: %w", err)
	}
	if result.RowsAffected() == 0 {
		return recipes.ErrItemNotFound
	}
	return nil
}

// DeleteIngredient deletes a single ingredient of a recipe.
func (r *Repository) DeleteIngredient(ctx context.Context, recipeID, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM recipe_ingredients WHERE id = $1 AND recipe_id = $2`, id, recipeID)
	if err != nil {
		return fmt.Errorf("delete ingredient: %w", err)
	}
	if result.RowsAffected() == 0 {
		return recipes.ErrItemNotFound
	}
	return nil
}

// ListSteps lists the steps of a recipe in insertion order.
func (r *Repository) ListSteps(ctx context.Context, recipeID int64) ([]domain.Step, error) {
	query := `
		SELECT id, recipe_id, name, instruction, duration_min
		FROM recipe_steps
		WHERE recipe_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, recipeID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := make([]domain.Step, 0)
	for rows.Next() {
		var step domain.Step
		if err := rows.Scan(&step.ID, &step.RecipeID, &step.Name, &step.Instruction, &step.DurationMin); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// CreateSteps inserts steps in one transaction.
func (r *Repository) CreateSteps(ctx context.Context, steps []domain.Step) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range steps {
		if err := insertStep(ctx, tx, &steps[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateSteps overwrites the given steps in one transaction. If any step is
// missing nothing is written.
func (r *Repository) UpdateSteps(ctx context.Context, steps []domain.Step) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE recipe_steps
		SET name = $3, instruction = $4, duration_min = $5
		WHERE id = $1 AND recipe_id = $2
	`
	for _, step := range steps {
		result, err := tx.Exec(ctx, query, step.ID, step.RecipeID, step.Name, step.Instruction, step.DurationMin)
		if err != nil {
			return fmt.Errorf("update step %d: %w", step.ID, err)
		}
		if result.RowsAffected() == 0 {
			return recipes.ErrItemNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteStep deletes a single step of a recipe.
func (r *Repository) DeleteStep(ctx context.Context, recipeID, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM recipe_steps WHERE id = $1 AND recipe_id = $2`, id, recipeID)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	if result.RowsAffected() == 0 {
		return recipes.ErrItemNotFound
	}
	return nil
}

// GetOwnerName returns the user name of userID, or "" if the user is gone.
func (r *Repository) GetOwnerName(ctx context.Context, userID int64) (string, error) {
	var name string
	err := r.db.QueryRow(ctx, `SELECT username FROM users WHERE id = $1`, userID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get owner name: %w", err)
	}
	return name, nil
}

func insertIngredient(ctx context.Context, q querier, ing *domain.Ingredient) error {
	query := `
		INSERT INTO recipe_ingredients (recipe_id, name, quantity, unit)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := q.QueryRow(ctx, query, ing.RecipeID, ing.Name, ing.Quantity, ing.Unit).Scan(&ing.ID); err != nil {
		return fmt.Errorf("insert ingredient: %w", err)
	}
	return nil
}

func insertStep(ctx context.Context, q querier, step *domain.Step) error {
	query := `
		INSERT INTO recipe_steps (recipe_id, name, instruction, duration_min)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := q.QueryRow(ctx, query, step.RecipeID, step.Name, step.Instruction, step.DurationMin).Scan(&step.ID); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// observations maps nil to an empty array so the column stays NOT NULL.
func observations(obs []string) []string {
	if obs == nil {
		return []string{}
	}
	return obs
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

package recipes

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bissquit/recipe-garden/internal/authz"
	"github.com/bissquit/recipe-garden/internal/domain"
	"github.com/bissquit/recipe-garden/internal/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Search limits.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Config holds recipe service settings.
type Config struct {
	// AllowAnonymousCreate lets callers without a credential create recipes.
	// Such recipes are unowned and editable only by admins.
	AllowAnonymousCreate bool
}

// Service implements recipe business logic.
type Service struct {
	repo   Repository
	config Config
}

// NewService creates a new recipe service.
func NewService(repo Repository, config Config) *Service {
	return &Service{repo: repo, config: config}
}

// IngredientInput holds the editable fields of an ingredient.
type IngredientInput struct {
	Name     string
	Quantity int
	Unit     domain.Unit
}

// StepInput holds the editable fields of a step.
type StepInput struct {
	Name        string
	Instruction string
	DurationMin int
}

// StepUpdate is a step edit within a batch update.
type StepUpdate struct {
	ID int64
	StepInput
}

// CreateRecipeInput holds data for creating a recipe.
type CreateRecipeInput struct {
	Name         string
	Observations []string
	Ingredients  []IngredientInput
	Steps        []StepInput
}

// UpdateRecipeInput holds optional recipe field changes.
type UpdateRecipeInput struct {
	Name         *string
	Observations *[]string
}

// CreateRecipe creates a recipe owned by caller. Without a caller the recipe
// is created unowned if the service allows anonymous creation.
func (s *Service) CreateRecipe(ctx context.Context, caller *authz.Identity, input CreateRecipeInput) (Aggregate, error) {
	if caller == nil && !s.config.AllowAnonymousCreate {
		metrics.AuthzDecisions.WithLabelValues("create_recipe", metrics.DecisionUnauthenticated).Inc()
		return Aggregate{}, authz.ErrUnauthenticated
	}

	name, err := normalizeName(input.Name)
	if err != nil {
		return Aggregate{}, err
	}
	recipe := domain.Recipe{
		Name:         name,
		Observations: input.Observations,
	}
	if recipe.Observations == nil {
		recipe.Observations = []string{}
	}
	if caller != nil {
		owner := caller.ActorID
		recipe.OwnerID = &owner
	}

	ingredients, err := buildIngredients(0, input.Ingredients)
	if err != nil {
		return Aggregate{}, err
	}
	steps, err := buildSteps(0, input.Steps)
	if err != nil {
		return Aggregate{}, err
	}

	if err := s.repo.CreateRecipe(ctx, &recipe, ingredients, steps); err != nil {
		return Aggregate{}, fmt.Errorf("create recipe: %w", err)
	}

	agg := Aggregate{
		Recipe:      recipe,
		Ingredients: ingredients,
		Steps:       steps,
	}
	if recipe.OwnerID != nil {
		name, err := s.repo.GetOwnerName(ctx, *recipe.OwnerID)
		if err != nil {
			return Aggregate{}, fmt.Errorf("get owner name: %w", err)
		}
		agg.OwnerName = name
	}
	return agg, nil
}

// GetRecipe returns the full recipe.
func (s *Service) GetRecipe(ctx context.Context, id int64) (Aggregate, error) {
	return s.loadAggregate(ctx, id)
}

// SearchRecipes lists recipes whose name starts with namePrefix,
// case-insensitively. An empty prefix lists all recipes.
func (s *Service) SearchRecipes(ctx context.Context, namePrefix string, limit int) ([]domain.Recipe, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	recipes, err := s.repo.SearchRecipes(ctx, domain.NormalizeName(namePrefix), limit)
	if err != nil {
		return nil, fmt.Errorf("search recipes: %w", err)
	}
	return recipes, nil
}

// CanEdit reports whether caller may modify the recipe.
func (s *Service) CanEdit(ctx context.Context, caller *authz.Identity, id int64) (bool, error) {
	recipe, err := s.repo.GetRecipe(ctx, id)
	if err != nil {
		return false, err
	}
	return authz.CanActOnResource(caller, ownership(recipe)), nil
}

// UpdateRecipe changes the recipe's name and observations. The owner never
// changes.
func (s *Service) UpdateRecipe(ctx context.Context, caller *authz.Identity, id int64, input UpdateRecipeInput) (Aggregate, error) {
	var name string
	if input.Name != nil {
		normalized, err := normalizeName(*input.Name)
		if err != nil {
			return Aggregate{}, err
		}
		name = normalized
	}

	agg, err := s.loadAggregate(ctx, id)
	if err != nil {
		return Aggregate{}, err
	}
	if err := s.authorize("update_recipe", caller, agg.Ownership()); err != nil {
		return Aggregate{}, err
	}

	if input.Name != nil {
		agg.Recipe.Name = name
	}
	if input.Observations != nil {
		agg.Recipe.Observations = *input.Observations
		if agg.Recipe.Observations == nil {
			agg.Recipe.Observations = []string{}
		}
	}

	if err := s.repo.UpdateRecipe(ctx, &agg.Recipe); err != nil {
		return Aggregate{}, fmt.Errorf("update recipe: %w", err)
	}
	return agg, nil
}

// DeleteRecipe deletes the recipe with its ingredients and steps.
func (s *Service) DeleteRecipe(ctx context.Context, caller *authz.Identity, id int64) error {
	recipe, err := s.repo.GetRecipe(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize("delete_recipe", caller, ownership(recipe)); err != nil {
		return err
	}
	if err := s.repo.DeleteRecipe(ctx, id); err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}
	return nil
}

// AddIngredients appends new ingredients to the recipe.
func (s *Service) AddIngredients(ctx context.Context, caller *authz.Identity, recipeID int64, inputs []IngredientInput) (Aggregate, error) {
	if len(inputs) == 0 {
		return Aggregate{}, ErrEmptyBatch
	}
	ingredients, err := buildIngredients(recipeID, inputs)
	if err != nil {
		return Aggregate{}, err
	}
	agg, err := s.loadAggregate(ctx, recipeID)
	if err != nil {
		return Aggregate{}, err
	}
	if err := s.authorize("add_ingredients", caller, agg.Ownership()); err != nil {
		return Aggregate{}, err
	}

	if err := s.repo.CreateIngredients(ctx, ingredients); err != nil {
		return Aggregate{}, fmt.Errorf("create ingredients: %w", err)
	}
	return agg.AddIngredients(ingredients...), nil
}

// UpdateIngredient replaces one ingredient of the recipe.
func (s *Service) UpdateIngredient(ctx context.Context, caller *authz.Identity, recipeID, ingredientID int64, input IngredientInput) (Aggregate, error) {
	built, err := buildIngredients(recipeID, []IngredientInput{input})
	if err != nil {
		return Aggregate{}, err
	}
	ingredient := built[0]
	ingredient.ID = ingredientID

	agg, err := s.loadAggregate(ctx, recipeID)
	if err != nil {
		return Aggregate{}, err
	}
	if err := s.authorize("update_ingredient", caller, agg.Ownership()); err != nil {
		return Aggregate{}, err
	}

	updated, err := agg.ReplaceIngredient(ingredient)
	if err != nil {
		return Aggregate{}, err
	}
	if err := s.repo.UpdateIngredient(ctx, ingredient); err != nil {
		return Aggregate{}, fmt.Errorf("update ingredient: %w", err)
	}
	return updated, nil
}

// DeleteIngredient removes one ingredient from the recipe.
func (s *Service) DeleteIngredient(ctx context.Context, caller *authz.Identity, recipeID, ingredientID int64) (Aggregate, error) {
	agg, err := s.loadAggregate(ctx, recipeID)
	if err != nil {
		return Aggregate{}, err
	}
	if err := s.authorize("delete_ingredient", caller, agg.Ownership()); err != nil {
		return Aggregate{}, err
	}

	updated, err := agg.RemoveIngredient(ingredientID)
	if err != nil {
		return Aggregate{}, err
	}
	if err := s.repo.DeleteIngredient(ctx, recipeID, ingredientID); err != nil {
		return Aggregate{}, fmt.Errorf("delete ingredient: %w", err)
	}
	return updated, nil
}

// AddSteps appends new steps to the recipe.
func (s *Service) AddSteps(ctx context.Context, caller *authz.Identity, recipeID int64, inputs []StepInput) (Aggregate, error) {
	if len(inputs) == 0 {
		return Aggregate{}, ErrEmptyBatch
	}
	steps, err := buildSteps(recipeID, inputs)
	if err != nil {
		return Aggregate{}, err
	}
	agg, err := s.loadAggregate(ctx, recipeID)
	if err != nil {
		return Aggregate{}, err
	}
	if err := s.authorize("add_steps", caller, agg.Ownership()); err != nil {
		return Aggregate{}, err
	}

	if err := s.repo.CreateSteps(ctx, steps); err != nil {
		return Aggregate{}, fmt.Errorf("create steps: %w", err)
	}
	return agg.AddSteps(steps...), nil
}

// UpdateStep replaces one step of the recipe.
func (s *Service) UpdateStep(ctx context.Context, caller *authz.Identity, recipeID, stepID int64, input StepInput) (Aggregate, error) {
	return s.UpdateSteps(ctx, caller, recipeID, []StepUpdate{{ID: stepID, StepInput: input}})
}

// UpdateSteps replaces several steps at once. Either every step exists and
// all are written, or nothing is.
func (s *Service) UpdateSteps(ctx context.Context, caller *authz.Identity, recipeID int64, updates []StepUpdate) (Aggregate, error) {
	if len(updates) == 0 {
		return Aggregate{}, ErrEmptyBatch
	}
	inputs := make([]StepInput, 0, len(updates))
	for _, u := range updates {
		inputs = append(inputs, u.StepInput)
	}
	steps, err := buildSteps(recipeID, inputs)
	if err != nil {
		return Aggregate{}, err
	}
	for i, u := range updates {
		steps[i].ID = u.ID
	}

	agg, err := s.loadAggregate(ctx, recipeID)
	if err != nil {
		return Aggregate{}, err
	}
	if err := s.authorize("update_steps", caller, agg.Ownership()); err != nil {
		return Aggregate{}, err
	}

	updated, err := agg.ReplaceSteps(steps)
	if err != nil {
		return Aggregate{}, err
	}
	if err := s.repo.UpdateSteps(ctx, steps); err != nil {
		return Aggregate{}, fmt.Errorf("update steps: %w", err)
	}
	return updated, nil
}

// DeleteStep removes one step from the recipe.
func (s *Service) DeleteStep(ctx context.Context, caller *authz.Identity, recipeID, stepID int64) (Aggregate, error) {
	agg, err := s.loadAggregate(ctx, recipeID)
	if err != nil {
		return Aggregate{}, err
	}
	if err := s.authorize("delete_step", caller, agg.Ownership()); err != nil {
		return Aggregate{}, err
	}

	updated, err := agg.RemoveStep(stepID)
	if err != nil {
		return Aggregate{}, err
	}
	if err := s.repo.DeleteStep(ctx, recipeID, stepID); err != nil {
		return Aggregate{}, fmt.Errorf("delete step: %w", err)
	}
	return updated, nil
}

// loadAggregate composes the aggregate from the recipe row, its ingredient
// rows, its step rows and the owner's name.
func (s *Service) loadAggregate(ctx context.Context, id int64) (Aggregate, error) {
	recipe, err := s.repo.GetRecipe(ctx, id)
	if err != nil {
		return Aggregate{}, err
	}

	agg := Aggregate{Recipe: *recipe}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ingredients, err := s.repo.ListIngredients(gctx, id)
		if err != nil {
			return fmt.Errorf("list ingredients: %w", err)
		}
		agg.Ingredients = ingredients
		return nil
	})
	g.Go(func() error {
		steps, err := s.repo.ListSteps(gctx, id)
		if err != nil {
			return fmt.Errorf("list steps: %w", err)
		}
		agg.Steps = steps
		return nil
	})
	if recipe.OwnerID != nil {
		ownerID := *recipe.OwnerID
		g.Go(func() error {
			name, err := s.repo.GetOwnerName(gctx, ownerID)
			if err != nil {
				return fmt.Errorf("get owner name: %w", err)
			}
			agg.OwnerName = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Aggregate{}, err
	}

	return agg, nil
}

func (s *Service) authorize(operation string, caller *authz.Identity, resource authz.OwnedResource) error {
	err := authz.AuthorizeResource(caller, resource)
	decision := metrics.DecisionAllow
	switch {
	case errors.Is(err, authz.ErrUnauthenticated):
		decision = metrics.DecisionUnauthenticated
	case errors.Is(err, authz.ErrForbidden):
		decision = metrics.DecisionForbidden
	}
	metrics.AuthzDecisions.WithLabelValues(operation, decision).Inc()
	return err
}

func ownership(recipe *domain.Recipe) authz.OwnedResource {
	if recipe.OwnerID == nil {
		return authz.Unowned()
	}
	return authz.Owned(*recipe.OwnerID)
}

// normalizeName rejects names that are empty once normalized.
func normalizeName(s string) (string, error) {
	name := domain.NormalizeName(s)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}

// checkCount keeps quantities and durations within the INTEGER columns.
func checkCount(v int) error {
	if v < 0 || v > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}
	return nil
}

func buildIngredients(recipeID int64, inputs []IngredientInput) ([]domain.Ingredient, error) {
	ingredients := make([]domain.Ingredient, 0, len(inputs))
	for _, in := range inputs {
		if !in.Unit.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidUnit, in.Unit)
		}
		name, err := normalizeName(in.Name)
		if err != nil {
			return nil, err
		}
		if err := checkCount(in.Quantity); err != nil {
			return nil, err
		}
		ingredients = append(ingredients, domain.Ingredient{
			RecipeID: recipeID,
			Name:     name,
			Quantity: in.Quantity,
			Unit:     in.Unit,
		})
	}
	return ingredients, nil
}

func buildSteps(recipeID int64, inputs []StepInput) ([]domain.Step, error) {
	steps := make([]domain.Step, 0, len(inputs))
	for _, in := range inputs {
		name, err := normalizeName(in.Name)
		if err != nil {
			return nil, err
		}
		if err := checkCount(in.DurationMin); err != nil {
			return nil, err
		}
		steps = append(steps, domain.Step{
			RecipeID:    recipeID,
			Name:        name,
			Instruction: in.Instruction,
			DurationMin: in.DurationMin,
		})
	}
	return steps, nil
}

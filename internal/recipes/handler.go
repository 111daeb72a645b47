// Package recipes provides HTTP handlers and business logic for recipes and
// their ingredients and steps.
package recipes

import (
	"net/http"
	"strconv"

	"github.com/bissquit/recipe-garden/internal/authz"
	"github.com/bissquit/recipe-garden/internal/domain"
	"github.com/bissquit/recipe-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler handles HTTP requests for the recipes module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new recipes handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterPublicRoutes registers read-only routes.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/recipes", h.SearchRecipes)
	r.Get("/recipes/{id}", h.GetRecipe)
}

// RegisterRoutes registers routes that need the caller's identity. They must
// run behind the optional auth middleware; handlers reject anonymous or
// insufficient callers themselves.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/recipes", h.CreateRecipe)

	r.Get("/recipes/{id}/permission", h.GetPermission)
	r.Patch("/recipes/{id}", h.UpdateRecipe)
	r.Delete("/recipes/{id}", h.DeleteRecipe)

	r.Post("/recipes/{id}/ingredients", h.AddIngredients)
	r.Patch("/recipes/{id}/ingredients/{ingredientID}", h.UpdateIngredient)
	r.Delete("/recipes/{id}/ingredients/{ingredientID}", h.DeleteIngredient)

	r.Post("/recipes/{id}/steps", h.AddSteps)
	r.Put("/recipes/{id}/steps", h.UpdateSteps)
	r.Patch("/recipes/{id}/steps/{stepID}", h.UpdateStep)
	r.Delete("/recipes/{id}/steps/{stepID}", h.DeleteStep)
}

// IngredientRequest represents an ingredient in a request body.
type IngredientRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Quantity int    `json:"quantity" validate:"gte=0,max=2147483647"`
	Unit     string `json:"unit" validate:"required,oneof=teaspoon tablespoon cup ounce gram kilogram liter milliliter"`
}

func (r IngredientRequest) toInput() IngredientInput {
	return IngredientInput{Name: r.Name, Quantity: r.Quantity, Unit: domain.Unit(r.Unit)}
}

// StepRequest represents a step in a request body.
type StepRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=100"`
	Instruction string `json:"instruction" validate:"max=4000"`
	DurationMin int    `json:"duration_min" validate:"gte=0,max=2147483647"`
}

func (r StepRequest) toInput() StepInput {
	return StepInput{Name: r.Name, Instruction: r.Instruction, DurationMin: r.DurationMin}
}

// StepUpdateRequest represents one element of a batch step update.
type StepUpdateRequest struct {
	ID int64 `json:"id" validate:"required,gt=0"`
	StepRequest
}

// CreateRecipeRequest represents the request body for creating a recipe.
type CreateRecipeRequest struct {
	Name         string              `json:"name" validate:"required,min=1,max=100"`
	Observations []string            `json:"observations" validate:"omitempty,dive,max=1000"`
	Ingredients  []IngredientRequest `json:"ingredients" validate:"omitempty,dive"`
	Steps        []StepRequest       `json:"steps" validate:"omitempty,dive"`
}

// UpdateRecipeRequest represents the request body for updating a recipe.
type UpdateRecipeRequest struct {
	Name         *string   `json:"name" validate:"omitempty,min=1,max=100"`
	Observations *[]string `json:"observations" validate:"omitempty,dive,max=1000"`
}

// PermissionResponse reports whether the caller may edit a recipe.
type PermissionResponse struct {
	CanEdit bool `json:"can_edit"`
}

// SearchRecipes handles GET /recipes?name=&limit=.
func (h *Handler) SearchRecipes(w http.ResponseWriter, r *http.Request) {
	limit := DefaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	result, err := h.service.SearchRecipes(r.Context(), r.URL.Query().Get("name"), limit)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, result)
}

// GetRecipe handles GET /recipes/{id}.
func (h *Handler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	agg, err := h.service.GetRecipe(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, agg)
}

// GetPermission handles GET /recipes/{id}/permission.
func (h *Handler) GetPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	canEdit, err := h.service.CanEdit(r.Context(), httputil.GetIdentity(r.Context()), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, PermissionResponse{CanEdit: canEdit})
}

// CreateRecipe handles POST /recipes.
func (h *Handler) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	var req CreateRecipeRequest
	if !h.decode(w, r, &req) {
		return
	}

	input := CreateRecipeInput{
		Name:         req.Name,
		Observations: req.Observations,
	}
	for _, ing := range req.Ingredients {
		input.Ingredients = append(input.Ingredients, ing.toInput())
	}
	for _, step := range req.Steps {
		input.Steps = append(input.Steps, step.toInput())
	}

	agg, err := h.service.CreateRecipe(r.Context(), httputil.GetIdentity(r.Context()), input)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusCreated, agg)
}

// UpdateRecipe handles PATCH /recipes/{id}.
func (h *Handler) UpdateRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateRecipeRequest
	if !h.decode(w, r, &req) {
		return
	}

	agg, err := h.service.UpdateRecipe(r.Context(), httputil.GetIdentity(r.Context()), id, UpdateRecipeInput(req))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, agg)
}

// DeleteRecipe handles DELETE /recipes/{id}.
func (h *Handler) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteRecipe(r.Context(), httputil.GetIdentity(r.Context()), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.NoContent(w)
}

// AddIngredients handles POST /recipes/{id}/ingredients.
func (h *Handler) AddIngredients(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req []IngredientRequest
	if !h.decodeSlice(w, r, &req) {
		return
	}

	inputs := make([]IngredientInput, 0, len(req))
	for _, ing := range req {
		inputs = append(inputs, ing.toInput())
	}

	agg, err := h.service.AddIngredients(r.Context(), httputil.GetIdentity(r.Context()), id, inputs)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusCreated, agg)
}

// UpdateIngredient handles PATCH /recipes/{id}/ingredients/{ingredientID}.
func (h *Handler) UpdateIngredient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ingredientID, ok := pathID(w, r, "ingredientID")
	if !ok {
		return
	}
	var req IngredientRequest
	if !h.decode(w, r, &req) {
		return
	}

	agg, err := h.service.UpdateIngredient(r.Context(), httputil.GetIdentity(r.Context()), id, ingredientID, req.toInput())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, agg)
}

// DeleteIngredient handles DELETE /recipes/{id}/ingredients/{ingredientID}.
func (h *Handler) DeleteIngredient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ingredientID, ok := pathID(w, r, "ingredientID")
	if !ok {
		return
	}

	agg, err := h.service.DeleteIngredient(r.Context(), httputil.GetIdentity(r.Context()), id, ingredientID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, agg)
}

// AddSteps handles POST /recipes/{id}/steps.
func (h *Handler) AddSteps(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req []StepRequest
	if !h.decodeSlice(w, r, &req) {
		return
	}

	inputs := make([]StepInput, 0, len(req))
	for _, step := range req {
		inputs = append(inputs, step.toInput())
	}

	agg, err := h.service.AddSteps(r.Context(), httputil.GetIdentity(r.Context()), id, inputs)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusCreated, agg)
}

// UpdateSteps handles PUT /recipes/{id}/steps.
func (h *Handler) UpdateSteps(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req []StepUpdateRequest
	if !h.decodeSlice(w, r, &req) {
		return
	}

	updates := make([]StepUpdate, 0, len(req))
	for _, step := range req {
		updates = append(updates, StepUpdate{ID: step.ID, StepInput: step.toInput()})
	}

	agg, err := h.service.UpdateSteps(r.Context(), httputil.GetIdentity(r.Context()), id, updates)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, agg)
}

// UpdateStep handles PATCH /recipes/{id}/steps/{stepID}.
func (h *Handler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	stepID, ok := pathID(w, r, "stepID")
	if !ok {
		return
	}
	var req StepRequest
	if !h.decode(w, r, &req) {
		return
	}

	agg, err := h.service.UpdateStep(r.Context(), httputil.GetIdentity(r.Context()), id, stepID, req.toInput())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, agg)
}

// DeleteStep handles DELETE /recipes/{id}/steps/{stepID}.
func (h *Handler) DeleteStep(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	stepID, ok := pathID(w, r, "stepID")
	if !ok {
		return
	}

	agg, err := h.service.DeleteStep(r.Context(), httputil.GetIdentity(r.Context()), id, stepID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, agg)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if !httputil.DecodeJSON(w, r, v) {
		return false
	}
	if err := h.validator.Struct(v); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

// decodeSlice decodes a JSON array body and validates each element.
func (h *Handler) decodeSlice(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if !httputil.DecodeJSON(w, r, v) {
		return false
	}
	if err := h.validator.Var(v, "required,min=1,dive"); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httputil.Error(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: authz.ErrUnauthenticated, Status: http.StatusUnauthorized},
		{Error: authz.ErrForbidden, Status: http.StatusForbidden},
		{Error: ErrRecipeNotFound, Status: http.StatusNotFound},
		{Error: ErrItemNotFound, Status: http.StatusNotFound},
		{Error: ErrInvalidUnit, Status: http.StatusBadRequest},
		{Error: ErrEmptyBatch, Status: http.StatusBadRequest},
		{Error: ErrEmptyName, Status: http.StatusBadRequest},
		{Error: ErrOutOfRange, Status: http.StatusBadRequest},
	})
}

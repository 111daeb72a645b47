//go:build integration

package app_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bissquit/recipe-garden/internal/app"
	"github.com/bissquit/recipe-garden/internal/config"
	"github.com/bissquit/recipe-garden/internal/domain"
	"github.com/bissquit/recipe-garden/internal/identity"
	identitypostgres "github.com/bissquit/recipe-garden/internal/identity/postgres"
	"github.com/bissquit/recipe-garden/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testServer    *httptest.Server
	testValidator *testutil.OpenAPIValidator
	testDB        *pgxpool.Pool
)

// OpenAPI spec path relative to this package directory.
const openAPISpecPath = "../../api/openapi/openapi.yaml"

const password = "password123"

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Database.URL = pgContainer.ConnectionString
	cfg.Database.AutoMigrate = true
	cfg.Database.ConnectAttempts = 3
	cfg.Log.Level = "error"
	cfg.Log.Format = "text"
	cfg.JWT.SecretKey = "test-secret-key-0123456789"
	cfg.RateLimit.LoginLimit = 1000

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	testDB, err = pgxpool.New(ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}

	testServer = httptest.NewServer(application.Router())

	testValidator, err = testutil.LoadOpenAPIValidator(openAPISpecPath)
	if err != nil {
		log.Fatalf("load OpenAPI validator: %v", err)
	}

	code := m.Run()

	testServer.Close()
	testDB.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown app: %v", err)
	}
	cancel()

	if err := pgContainer.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}

	os.Exit(code)
}

func newTestClient(t *testing.T) *testutil.Client {
	t.Helper()
	client := testutil.NewClientWithValidator(testServer.URL, testValidator)
	client.SetT(t)
	return client
}

// newUser registers a uniquely named user and returns a logged-in client.
func newUser(t *testing.T, prefix string) (*testutil.Client, int64) {
	t.Helper()
	client := newTestClient(t)
	username := fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	id := client.Register(t, username, password)
	client.LoginAs(t, username, password)
	return client, id
}

// newAdmin registers a user, promotes it in the database and logs in so the
// access token carries the admin role.
func newAdmin(t *testing.T) *testutil.Client {
	t.Helper()
	client := newTestClient(t)
	username := fmt.Sprintf("admin-%d", time.Now().UnixNano())
	id := client.Register(t, username, password)

	_, err := testDB.Exec(context.Background(), `UPDATE users SET role = 'admin' WHERE id = $1`, id)
	require.NoError(t, err)

	client.LoginAs(t, username, password)
	return client
}

type aggregateResponse struct {
	Data struct {
		Recipe struct {
			ID      int64  `json:"id"`
			OwnerID *int64 `json:"owner_id"`
			Name    string `json:"name"`
		} `json:"recipe"`
		Ingredients []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"ingredients"`
		Steps []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"steps"`
		OwnerName string `json:"owner_name"`
	} `json:"data"`
}

func createRecipe(t *testing.T, client *testutil.Client, name string) aggregateResponse {
	t.Helper()
	resp, err := client.POST("/api/v1/recipes", map[string]interface{}{
		"name":         name,
		"observations": []string{"serve warm"},
		"ingredients": []map[string]interface{}{
			{"name": "flour", "quantity": 200, "unit": "gram"},
			{"name": "milk", "quantity": 300, "unit": "milliliter"},
		},
		"steps": []map[string]interface{}{
			{"name": "mix", "instruction": "mix everything", "duration_min": 5},
			{"name": "fry", "instruction": "fry both sides", "duration_min": 10},
		},
	})
	require.NoError(t, err)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create recipe: status=%d body=%s", resp.StatusCode, testutil.ReadBody(t, resp))
	}

	var agg aggregateResponse
	testutil.DecodeJSON(t, resp, &agg)
	return agg
}

func status(t *testing.T, resp *http.Response, err error) int {
	t.Helper()
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestRecipeOwnership(t *testing.T) {
	owner, ownerID := newUser(t, "owner")
	other, _ := newUser(t, "other")
	admin := newAdmin(t)
	anonymous := newTestClient(t)

	agg := createRecipe(t, owner, "Pancakes")
	require.NotNil(t, agg.Data.Recipe.OwnerID)
	assert.Equal(t, ownerID, *agg.Data.Recipe.OwnerID)
	assert.Len(t, agg.Data.Ingredients, 2)
	assert.Len(t, agg.Data.Steps, 2)
	path := fmt.Sprintf("/api/v1/recipes/%d", agg.Data.Recipe.ID)

	t.Run("anyone reads", func(t *testing.T) {
		resp, err := anonymous.GET(path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got aggregateResponse
		testutil.DecodeJSON(t, resp, &got)
		assert.Equal(t, "Pancakes", got.Data.Recipe.Name)
		assert.NotEmpty(t, got.Data.OwnerName)
	})

	t.Run("anonymous edit is unauthenticated", func(t *testing.T) {
		resp, err := anonymous.PATCH(path, map[string]string{"name": "Crepes"})
		assert.Equal(t, http.StatusUnauthorized, status(t, resp, err))
	})

	t.Run("other user is forbidden", func(t *testing.T) {
		resp, err := other.PATCH(path, map[string]string{"name": "Crepes"})
		assert.Equal(t, http.StatusForbidden, status(t, resp, err))

		ingredientPath := fmt.Sprintf("%s/ingredients/%d", path, agg.Data.Ingredients[0].ID)
		resp, err = other.DELETE(ingredientPath)
		assert.Equal(t, http.StatusForbidden, status(t, resp, err))
	})

	t.Run("permission probe", func(t *testing.T) {
		for client, want := range map[*testutil.Client]bool{owner: true, admin: true, other: false, anonymous: false} {
			resp, err := client.GET(path + "/permission")
			require.NoError(t, err)

			var body struct {
				Data struct {
					CanEdit bool `json:"can_edit"`
				} `json:"data"`
			}
			testutil.DecodeJSON(t, resp, &body)
			assert.Equal(t, want, body.Data.CanEdit)
		}
	})

	t.Run("owner and admin edit", func(t *testing.T) {
		resp, err := owner.PATCH(path, map[string]string{"name": "Crepes"})
		assert.Equal(t, http.StatusOK, status(t, resp, err))

		resp, err = admin.PATCH(path, map[string]interface{}{"observations": []string{"thin batter"}})
		assert.Equal(t, http.StatusOK, status(t, resp, err))
	})
}

func TestChildEdits(t *testing.T) {
	owner, _ := newUser(t, "chef")
	agg := createRecipe(t, owner, "Omelette")
	path := fmt.Sprintf("/api/v1/recipes/%d", agg.Data.Recipe.ID)
	firstStep, secondStep := agg.Data.Steps[0].ID, agg.Data.Steps[1].ID

	t.Run("replace ingredient", func(t *testing.T) {
		resp, err := owner.PATCH(fmt.Sprintf("%s/ingredients/%d", path, agg.Data.Ingredients[1].ID),
			map[string]interface{}{"name": "oat milk", "quantity": 250, "unit": "milliliter"})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got aggregateResponse
		testutil.DecodeJSON(t, resp, &got)
		assert.Equal(t, "flour", got.Data.Ingredients[0].Name)
		assert.Equal(t, "oat milk", got.Data.Ingredients[1].Name)
	})

	t.Run("unknown ingredient", func(t *testing.T) {
		resp, err := owner.WithoutValidation().DELETE(path + "/ingredients/999999")
		assert.Equal(t, http.StatusNotFound, status(t, resp, err))
	})

	t.Run("batch step update is all or nothing", func(t *testing.T) {
		resp, err := owner.PUT(path+"/steps", []map[string]interface{}{
			{"id": firstStep, "name": "whisk"},
			{"id": 999999, "name": "rest"},
		})
		assert.Equal(t, http.StatusNotFound, status(t, resp, err))

		resp, err = owner.GET(path)
		require.NoError(t, err)
		var got aggregateResponse
		testutil.DecodeJSON(t, resp, &got)
		assert.Equal(t, "mix", got.Data.Steps[0].Name)

		resp, err = owner.PUT(path+"/steps", []map[string]interface{}{
			{"id": firstStep, "name": "whisk"},
			{"id": secondStep, "name": "cook"},
		})
		assert.Equal(t, http.StatusOK, status(t, resp, err))
	})

	t.Run("add and remove", func(t *testing.T) {
		resp, err := owner.POST(path+"/ingredients", []map[string]interface{}{
			{"name": "salt", "quantity": 1, "unit": "teaspoon"},
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var got aggregateResponse
		testutil.DecodeJSON(t, resp, &got)
		require.Len(t, got.Data.Ingredients, 3)

		resp, err = owner.DELETE(fmt.Sprintf("%s/steps/%d", path, secondStep))
		require.NoError(t, err)
		testutil.DecodeJSON(t, resp, &got)
		assert.Len(t, got.Data.Steps, 1)
	})
}

func TestSearchRecipes(t *testing.T) {
	owner, _ := newUser(t, "searcher")
	suffix := time.Now().UnixNano()
	createRecipe(t, owner, fmt.Sprintf("Zucchini Bread %d", suffix))
	createRecipe(t, owner, fmt.Sprintf("zucchini soup %d", suffix))

	resp, err := newTestClient(t).GET("/api/v1/recipes?name=ZUCCHINI&limit=50")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data []struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &body)
	assert.GreaterOrEqual(t, len(body.Data), 2)
	for _, r := range body.Data {
		assert.Contains(t, []string{"z", "Z"}, r.Name[:1])
	}
}

func TestDeletedUserLeavesUnownedRecipes(t *testing.T) {
	owner, ownerID := newUser(t, "leaving")
	admin := newAdmin(t)
	agg := createRecipe(t, owner, "Orphan Stew")
	path := fmt.Sprintf("/api/v1/recipes/%d", agg.Data.Recipe.ID)

	resp, err := owner.DELETE(fmt.Sprintf("/api/v1/users/%d", ownerID))
	require.Equal(t, http.StatusNoContent, status(t, resp, err))

	resp, err = newTestClient(t).GET(path)
	require.NoError(t, err)
	var got aggregateResponse
	testutil.DecodeJSON(t, resp, &got)
	assert.Nil(t, got.Data.Recipe.OwnerID)
	assert.Empty(t, got.Data.OwnerName)

	other, _ := newUser(t, "bystander")
	resp, err = other.PATCH(path, map[string]string{"name": "Mine now"})
	assert.Equal(t, http.StatusForbidden, status(t, resp, err))

	resp, err = admin.PATCH(path, map[string]string{"name": "Community Stew"})
	assert.Equal(t, http.StatusOK, status(t, resp, err))
}

func TestUsers(t *testing.T) {
	alice, aliceID := newUser(t, "alice")
	bob, bobID := newUser(t, "bob")
	admin := newAdmin(t)

	resp, err := alice.GET("/api/v1/me")
	assert.Equal(t, http.StatusOK, status(t, resp, err))

	resp, err = bob.GET(fmt.Sprintf("/api/v1/users/%d", aliceID))
	assert.Equal(t, http.StatusForbidden, status(t, resp, err))

	resp, err = bob.PATCH(fmt.Sprintf("/api/v1/users/%d", bobID), map[string]string{"role": "admin"})
	assert.Equal(t, http.StatusForbidden, status(t, resp, err))

	resp, err = alice.GET("/api/v1/users")
	assert.Equal(t, http.StatusForbidden, status(t, resp, err))

	resp, err = admin.GET("/api/v1/users")
	assert.Equal(t, http.StatusOK, status(t, resp, err))
}

func TestCSRFRequiredForCookieAuth(t *testing.T) {
	owner, _ := newUser(t, "csrf")
	agg := createRecipe(t, owner, "Guarded Pie")

	noCSRF := owner.WithoutValidation()
	noCSRF.CSRFToken = ""

	resp, err := noCSRF.PATCH(fmt.Sprintf("/api/v1/recipes/%d", agg.Data.Recipe.ID), map[string]string{"name": "Hijacked"})
	assert.Equal(t, http.StatusForbidden, status(t, resp, err))
}

func TestRefreshAndLogout(t *testing.T) {
	client, _ := newUser(t, "rotator")

	resp, err := client.POST("/api/v1/auth/refresh", nil)
	assert.Equal(t, http.StatusOK, status(t, resp, err))

	resp, err = client.POST("/api/v1/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, status(t, resp, err))

	resp, err = client.WithoutValidation().GET("/api/v1/me")
	assert.Equal(t, http.StatusUnauthorized, status(t, resp, err))
}

func TestRefreshTokenConsumedOnce(t *testing.T) {
	_, userID := newUser(t, "replay")
	repo := identitypostgres.NewRepository(testDB)
	ctx := context.Background()

	token := &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.SaveRefreshToken(ctx, token))

	const attempts = 10
	var (
		wg       sync.WaitGroup
		consumed atomic.Int32
		rejected atomic.Int32
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, err := repo.ConsumeRefreshToken(ctx, token.ID)
			switch {
			case err == nil && stored.UserID == userID:
				consumed.Add(1)
			case errors.Is(err, identity.ErrInvalidToken):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), consumed.Load())
	assert.Equal(t, int32(attempts-1), rejected.Load())
}

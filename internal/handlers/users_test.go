package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

func setupUsersRouter(handler *UsersHandler, user models.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user", user)
		c.Set("userID", user.ID)
		c.Next()
	})
	r.GET("/users", handler.ListUsers)
	return r
}

func TestListUsersExcludesCaller(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewUsersHandler(userRepo)
	router := setupUsersRouter(handler, models.User{ID: "u-1", Name: "Avery"})

	userRepo.On("ListUsers", mock.Anything).Return([]models.User{
		{ID: "u-1", Name: "Avery"},
		{ID: "u-2", Name: "Ben"},
		{ID: "u-3", Name: "Cara"},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Users []models.User `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Users, 2)
	assert.Equal(t, "u-2", resp.Users[0].ID)
	assert.Equal(t, "u-3", resp.Users[1].ID)
	userRepo.AssertExpectations(t)
}

func TestListUsersRepoError(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewUsersHandler(userRepo)
	router := setupUsersRouter(handler, models.User{ID: "u-1"})

	userRepo.On("ListUsers", mock.Anything).Return(([]models.User)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	userRepo.AssertExpectations(t)
}

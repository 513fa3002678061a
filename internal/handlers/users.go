package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/repositories"
)

// UsersHandler serves the people picker.
type UsersHandler struct {
	userRepo repositories.UserRepository
}

func NewUsersHandler(userRepo repositories.UserRepository) *UsersHandler {
	return &UsersHandler{userRepo: userRepo}
}

// ListUsers returns every account available as a chat target, excluding the
// caller.
func (h *UsersHandler) ListUsers(c *gin.Context) {
	userID := c.GetString("userID")

	users, err := h.userRepo.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}

	filtered := users[:0]
	for _, u := range users {
		if u.ID != userID {
			filtered = append(filtered, u)
		}
	}
	c.JSON(http.StatusOK, gin.H{"users": filtered})
}

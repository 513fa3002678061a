package handlers

import (
	"bytes"
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
	"chat-sync/internal/ws"
)

func setupGroupRouter(handler *GroupHandler, user models.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user", user)
		c.Set("userID", user.ID)
		c.Next()
	})
	r.POST("/groups", handler.CreateGroup)
	r.GET("/groups/:group_id", handler.GroupDetail)
	r.POST("/groups/:group_id/members", handler.AddMembers)
	r.DELETE("/groups/:group_id/members/:user_id", handler.RemoveMember)
	r.POST("/groups/:group_id/leave", handler.LeaveGroup)
	r.DELETE("/groups/:group_id", handler.DeleteGroup)
	return r
}

var (
	employeeUser = models.User{ID: "u-1", Name: "Avery", Role: models.RoleEmployee}
	hrUser       = models.User{ID: "u-hr", Name: "Harper", Role: models.RoleHR}
	adminUser    = models.User{ID: "u-adm", Name: "Sam", Role: models.RoleAdmin}
)

func TestCreateGroupSuccess(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewGroupHandler(roomRepo, userRepo, ws.NewHub(roomRepo), nil)
	router := setupGroupRouter(handler, employeeUser)

	created := models.Room{ID: "g-1", Kind: models.RoomGroup, Name: "Payroll", AdminIDs: []string{"u-1"}}
	userRepo.On("GetByID", mock.Anything, "u-2").Return(models.User{ID: "u-2"}, nil).Once()
	roomRepo.On("CreateGroup", mock.Anything, "u-1", "Payroll", "numbers", []string{"u-2"}).Return(created, nil).Once()
	roomRepo.On("GetRoom", mock.Anything, "g-1", "u-2").Return(created, nil).Once()

	body := bytes.NewBufferString(`{"name":"  Payroll  ","member_ids":["u-2"],"description":"numbers"}`)
	req := httptest.NewRequest(http.MethodPost, "/groups", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Room models.Room `json:"room"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "g-1", resp.Room.ID)
	roomRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestCreateGroupMissingMembers(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	handler := NewGroupHandler(roomRepo, new(mocks.UserRepositoryMock), ws.NewHub(roomRepo), nil)
	router := setupGroupRouter(handler, employeeUser)

	req := httptest.NewRequest(http.MethodPost, "/groups", bytes.NewBufferString(`{"name":"Payroll","member_ids":[]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGroupDetailRequiresMembership(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	handler := NewGroupHandler(roomRepo, new(mocks.UserRepositoryMock), ws.NewHub(roomRepo), nil)
	router := setupGroupRouter(handler, employeeUser)

	roomRepo.On("IsMember", mock.Anything, "g-1", "u-1").Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/groups/g-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	roomRepo.AssertExpectations(t)
}

func TestAddMembersForbiddenForPlainEmployee(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	handler := NewGroupHandler(roomRepo, new(mocks.UserRepositoryMock), ws.NewHub(roomRepo), nil)
	router := setupGroupRouter(handler, employeeUser)

	roomRepo.On("IsRoomAdmin", mock.Anything, "g-1", "u-1").Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/g-1/members", bytes.NewBufferString(`{"member_ids":["u-5"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	roomRepo.AssertExpectations(t)
}

func TestAddMembersAllowedForHR(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewGroupHandler(roomRepo, userRepo, ws.NewHub(roomRepo), nil)
	router := setupGroupRouter(handler, hrUser)

	room := models.Room{ID: "g-1", Kind: models.RoomGroup, Name: "Payroll"}
	userRepo.On("GetByID", mock.Anything, "u-5").Return(models.User{ID: "u-5"}, nil).Once()
	roomRepo.On("AddMembers", mock.Anything, "g-1", []string{"u-5"}).Return(nil).Once()
	roomRepo.On("GetRoom", mock.Anything, "g-1", "u-hr").Return(room, nil).Once()
	roomRepo.On("GetRoom", mock.Anything, "g-1", "u-5").Return(room, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/g-1/members", bytes.NewBufferString(`{"member_ids":["u-5"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	roomRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestAddMembersAllowedForRoomAdmin(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewGroupHandler(roomRepo, userRepo, ws.NewHub(roomRepo), nil)
	router := setupGroupRouter(handler, employeeUser)

	room := models.Room{ID: "g-1", Kind: models.RoomGroup, Name: "Payroll", AdminIDs: []string{"u-1"}}
	roomRepo.On("IsRoomAdmin", mock.Anything, "g-1", "u-1").Return(true, nil).Once()
	userRepo.On("GetByID", mock.Anything, "u-5").Return(models.User{ID: "u-5"}, nil).Once()
	roomRepo.On("AddMembers", mock.Anything, "g-1", []string{"u-5"}).Return(nil).Once()
	roomRepo.On("GetRoom", mock.Anything, "g-1", "u-1").Return(room, nil).Once()
	roomRepo.On("GetRoom", mock.Anything, "g-1", "u-5").Return(room, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/g-1/members", bytes.NewBufferString(`{"member_ids":["u-5"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	roomRepo.AssertExpectations(t)
}

func TestRemoveMemberSuccess(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	handler := NewGroupHandler(roomRepo, new(mocks.UserRepositoryMock), ws.NewHub(roomRepo), nil)
	router := setupGroupRouter(handler, hrUser)

	roomRepo.On("RemoveMember", mock.Anything, "g-1", "u-5").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/groups/g-1/members/u-5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	roomRepo.AssertExpectations(t)
}

func TestLeaveGroupSuccess(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	handler := NewGroupHandler(roomRepo, new(mocks.UserRepositoryMock), ws.NewHub(roomRepo), nil)
	router := setupGroupRouter(handler, employeeUser)

	roomRepo.On("RemoveMember", mock.Anything, "g-1", "u-1").Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/g-1/leave", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	roomRepo.AssertExpectations(t)
}

func TestDeleteGroupForbiddenForHR(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	handler := NewGroupHandler(roomRepo, new(mocks.UserRepositoryMock), ws.NewHub(roomRepo), nil)
	router := setupGroupRouter(handler, hrUser)

	req := httptest.NewRequest(http.MethodDelete, "/groups/g-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteGroupSuccess(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	handler := NewGroupHandler(roomRepo, new(mocks.UserRepositoryMock), ws.NewHub(roomRepo), nil)
	router := setupGroupRouter(handler, adminUser)

	roomRepo.On("MemberIDs", mock.Anything, "g-1").Return([]string{"u-adm", "u-2"}, nil).Once()
	roomRepo.On("DeleteRoom", mock.Anything, "g-1").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/groups/g-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	roomRepo.AssertExpectations(t)
}

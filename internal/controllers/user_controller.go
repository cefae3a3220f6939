package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/findoc/backend/internal/middleware"
	"github.com/findoc/backend/internal/models"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserController struct {
	db *gorm.DB
}

func NewUserController(db *gorm.DB) *UserController {
	return &UserController{db: db}
}

type UpdateUserRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type UpdateUserRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

type CreateUserRequest struct {
	FirstName string `json:"firstName" binding:"required"`
	LastName  string `json:"lastName" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=6"`
	Role      string `json:"role" binding:"required"`
}

func (uc *UserController) findUser(c *gin.Context, id string) (*models.User, bool) {
	var user models.User
	if err := uc.db.Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch user"})
		}
		return nil, false
	}
	return &user, true
}

func (uc *UserController) GetCurrentUser(c *gin.Context) {
	if middleware.IsAnonymous(c) {
		c.JSON(http.StatusOK, gin.H{
			"id":        middleware.CurrentUserID(c),
			"role":      models.RoleUser,
			"anonymous": true,
		})
		return
	}
	user, ok := uc.findUser(c, middleware.CurrentUserID(c))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

func (uc *UserController) UpdateCurrentUser(c *gin.Context) {
	if middleware.IsAnonymous(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Anonymous sessions have no profile"})
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, ok := uc.findUser(c, middleware.CurrentUserID(c))
	if !ok {
		return
	}
	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}

	if err := uc.db.Save(user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// Admin: list users with optional search
func (uc *UserController) GetUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	search := strings.ToLower(strings.TrimSpace(c.Query("search")))

	query := uc.db.Model(&models.User{})
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count users"})
		return
	}

	var users []models.User
	if err := query.Order("created_at ASC").Offset((page - 1) * limit).Limit(limit).Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// Admin: add a new user
func (uc *UserController) AddUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := models.UserRole(strings.ToUpper(req.Role))
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role. Must be one of: ADMIN, USER"})
		return
	}
	email := strings.ToLower(req.Email)

	var existing models.User
	if err := uc.db.Where("email = ?", email).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	user := models.User{
		Email:     email,
		Password:  string(hashedPassword),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
		IsActive:  true,
	}
	if err := uc.db.Create(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, user)
}

// adminCount counts administrators other than excludeID.
func (uc *UserController) adminCount(excludeID string) (int64, error) {
	var n int64
	err := uc.db.Model(&models.User{}).Where("role = ? AND id <> ?", models.RoleAdmin, excludeID).Count(&n).Error
	return n, err
}

// Admin: remove a user by ID
func (uc *UserController) RemoveUser(c *gin.Context) {
	id := c.Param("id")
	if id == middleware.CurrentUserID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete your own account"})
		return
	}

	user, ok := uc.findUser(c, id)
	if !ok {
		return
	}
	if user.Role == models.RoleAdmin {
		others, err := uc.adminCount(user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check admin count"})
			return
		}
		if others == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "At least one admin must remain in the system"})
			return
		}
	}

	if err := uc.db.Delete(user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
}

// Admin: update user role
func (uc *UserController) UpdateUserRole(c *gin.Context) {
	var req UpdateUserRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := models.UserRole(strings.ToUpper(req.Role))
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role. Must be one of: ADMIN, USER"})
		return
	}

	id := c.Param("id")
	if id == middleware.CurrentUserID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot change your own role"})
		return
	}

	user, ok := uc.findUser(c, id)
	if !ok {
		return
	}
	if user.Role == models.RoleAdmin && role != models.RoleAdmin {
		others, err := uc.adminCount(user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check admin count"})
			return
		}
		if others == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot change role. At least one admin must remain in the system"})
			return
		}
	}

	if err := uc.db.Model(user).Update("role", role).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user role"})
		return
	}
	user.Role = role

	c.JSON(http.StatusOK, gin.H{
		"message": "User role updated successfully",
		"user":    user,
	})
}

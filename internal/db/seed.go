package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/findoc/backend/internal/logger"
	"github.com/findoc/backend/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedUser is one entry of the initial users file.
type SeedUser struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

type seedFile struct {
	Users []SeedUser `json:"users"`
}

// LoadSeedUsers reads the first existing file among paths.
func LoadSeedUsers(paths ...string) ([]SeedUser, error) {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read users file: %w", err)
		}
		var f seedFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", p, err)
		}
		logger.Info("Loaded seed users", map[string]interface{}{"path": p, "count": len(f.Users)})
		return f.Users, nil
	}
	return nil, fmt.Errorf("no users file found in %v", paths)
}

// SeedUsers creates the users that do not exist yet and returns how many were created.
func SeedUsers(conn *gorm.DB, users []SeedUser) (int, error) {
	created := 0
	for _, u := range users {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email == "" || u.Password == "" {
			logger.Warn("Skipping seed user without email or password", nil)
			continue
		}

		var count int64
		if err := conn.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return created, fmt.Errorf("failed to check user %s: %w", email, err)
		}
		if count > 0 {
			logger.Debug("Seed user already exists", map[string]interface{}{"email": email})
			continue
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return created, fmt.Errorf("failed to hash password for %s: %w", email, err)
		}

		role := models.UserRole(strings.ToUpper(u.Role))
		if !role.Valid() {
			logger.Warn("Unknown seed role, defaulting to user", map[string]interface{}{"email": email, "role": u.Role})
			role = models.RoleUser
		}

		user := models.User{
			Email:     email,
			Password:  string(hashed),
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Role:      role,
			IsActive:  true,
		}
		if err := conn.Create(&user).Error; err != nil {
			return created, fmt.Errorf("failed to create user %s: %w", email, err)
		}
		created++
		logger.Info("Created seed user", map[string]interface{}{"email": email, "role": role})
	}
	return created, nil
}

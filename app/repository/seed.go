package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/nestgold/nestgold/app/models"
)

// EnsureAdmin creates the admin account, or resets its password and role when
// the username already exists. It reports whether a new account was created.
func EnsureAdmin(users UserRepository, username, password string) (bool, error) {
	admin, err := models.NewAdminUser(username, password)
	if err != nil {
		return false, fmt.Errorf("invalid admin account: %w", err)
	}

	existing, err := users.GetByUsername(admin.Username)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := users.Create(admin); err != nil {
			return false, fmt.Errorf("create admin: %w", err)
		}
		return true, nil
	case err != nil:
		return false, err
	}

	existing.PasswordHash = admin.PasswordHash
	existing.Role = models.ROLE_ADMIN
	if err := users.Update(existing); err != nil {
		return false, fmt.Errorf("update admin: %w", err)
	}
	return false, nil
}

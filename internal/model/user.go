package model

import "time"

// Roles a user can hold.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User represents a user in the database.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ValidRole reports whether role is one the system assigns.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

// RegisterRequest represents a user registration request.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SetRoleRequest represents an admin request to change a user's role.
type SetRoleRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TokenResponse is returned by every endpoint that issues a token.
type TokenResponse struct {
	Token string `json:"token"`
}

// ChangePasswordRequest carries the new password of the calling user.
type ChangePasswordRequest struct {
	Password string `json:"password"`
}

package models

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole is the system-wide role of a user
type UserRole string

const (
	RoleCreator UserRole = "creator"
	RoleForeman UserRole = "foreman"
	RoleWorker  UserRole = "worker"
	RoleViewer  UserRole = "viewer"
)

// AllUserRoles lists every role in privilege order.
var AllUserRoles = []UserRole{RoleCreator, RoleForeman, RoleWorker, RoleViewer}

func (r UserRole) Valid() bool {
	switch r {
	case RoleCreator, RoleForeman, RoleWorker, RoleViewer:
		return true
	}
	return false
}

// Label returns the human readable role name used in chat messages.
func (r UserRole) Label() string {
	switch r {
	case RoleCreator:
		return "Creator"
	case RoleForeman:
		return "Foreman"
	case RoleWorker:
		return "Worker"
	case RoleViewer:
		return "Viewer"
	}
	return string(r)
}

// User represents a user in the system, keyed by the chat platform id
type User struct {
	ID         int64     `json:"id" db:"id"`
	TelegramID int64     `json:"telegram_id" db:"telegram_id"`
	Username   string    `json:"username,omitempty" db:"username"`
	FirstName  string    `json:"first_name,omitempty" db:"first_name"`
	LastName   string    `json:"last_name,omitempty" db:"last_name"`
	Role       UserRole  `json:"role" db:"role"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayName joins first and last name, falling back to the username.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = strconv.FormatInt(u.TelegramID, 10)
	}
	return name
}

// UserRegisterRequest is the payload of POST /users/register and POST /admin/users
type UserRegisterRequest struct {
	TelegramID int64    `json:"telegram_id"`
	Username   string   `json:"username"`
	FirstName  string   `json:"first_name"`
	LastName   string   `json:"last_name"`
	Role       UserRole `json:"role"`
}

// UserUpdateRequest is the payload of PUT /users/me; nil fields are left unchanged.
type UserUpdateRequest struct {
	Username  *string `json:"username"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// UserAuthRequest is the payload of POST /users/auth
type UserAuthRequest struct {
	TelegramID int64 `json:"telegram_id"`
}

// UserAuthResponse is returned by POST /users/auth
type UserAuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	User        User   `json:"user"`
}

// AccessCheckResponse is the unauthenticated access probe used by the bot
type AccessCheckResponse struct {
	IsActive  bool     `json:"is_active"`
	Role      UserRole `json:"role,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Username  string   `json:"username,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// TokenClaims represents the JWT token claims; the subject carries the telegram id.
type TokenClaims struct {
	Subject string `json:"sub"`
	Type    string `json:"type"` // "access"
	Exp     int64  `json:"exp"`
	Iat     int64  `json:"iat"`
}

// TelegramID parses the subject back into a telegram id.
func (c *TokenClaims) TelegramID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// GetExpirationTime implements jwt.Claims interface
func (c *TokenClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Exp, 0)), nil
}

// GetIssuedAt implements jwt.Claims interface
func (c *TokenClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Iat, 0)), nil
}

// GetNotBefore implements jwt.Claims interface
func (c *TokenClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

// GetIssuer implements jwt.Claims interface
func (c *TokenClaims) GetIssuer() (string, error) {
	return "", nil
}

// GetSubject implements jwt.Claims interface
func (c *TokenClaims) GetSubject() (string, error) {
	return c.Subject, nil
}

// GetAudience implements jwt.Claims interface
func (c *TokenClaims) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}

// AdminStats is returned by GET /admin/stats
type AdminStats struct {
	TotalUsers       int `json:"total_users"`
	ActiveUsers      int `json:"active_users"`
	PendingApprovals int `json:"pending_approvals"`
	ForemenCount     int `json:"foremen_count"`
	WorkersCount     int `json:"workers_count"`
}

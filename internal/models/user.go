// internal/models/user.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered account. PasswordHash is the encoded argon2id hash and
// is never serialized.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

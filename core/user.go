package core

import (
	"context"
	"time"
)

type (
	User struct {
		ID        string    `json:"id" gorm:"primaryKey"`
		Email     string    `json:"email" gorm:"uniqueIndex"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Identity is the authenticated principal attached to a live session.
	Identity struct {
		UserID      string `json:"userId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
	}

	UserStore interface {
		GetUser(ctx context.Context, id string) (*User, error)
		GetUserByEmail(ctx context.Context, email string) (*User, error)
	}
)

// IdentityOf builds the session identity for a stored user. The display
// name falls back to the email when the user never set one.
func IdentityOf(u *User) Identity {
	name := u.Name
	if name == "" {
		name = u.Email
	}
	return Identity{UserID: u.ID, Email: u.Email, DisplayName: name}
}

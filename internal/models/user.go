package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User is a buyer. Owned by the auth service; read-only here.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID          string    `json:"id" bun:"id,pk"`
	Email       string    `json:"email" bun:"email"`
	FirstName   string    `json:"first_name" bun:"first_name"`
	LastName    string    `json:"last_name" bun:"last_name"`
	PhoneNumber string    `json:"phone_number" bun:"phone_number"`
	CreatedAt   time.Time `json:"created_at" bun:"created_at,notnull"`
}

func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

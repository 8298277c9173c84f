package entity

import "time"

// User represents an account row in the `users` table.
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	PasswordAlgo string    `db:"password_algo" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// NewUser is the registration input as received from the wire. Password is
// plaintext and must never be persisted or logged.
type NewUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// String keeps the plaintext password out of %v / %+v output.
func (n NewUser) String() string {
	return "NewUser{Username:" + n.Username + " Email:" + n.Email + " Password:<redacted>}"
}

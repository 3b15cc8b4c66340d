package models

import "time"

type User struct {
	ID           int64     `db:"id"`
	Firstname    string    `db:"firstname"`
	Lastname     string    `db:"lastname"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

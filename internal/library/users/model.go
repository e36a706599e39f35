package users

import "time"

type User struct {
	ID           int64
	Name         string
	BirthDate    time.Time
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	OpenLoans    int
}

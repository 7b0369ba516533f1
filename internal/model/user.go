package model

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserSettings are the per-user defaults a fresh session starts from.
type UserSettings struct {
	UserID        string    `json:"userId"`
	FocusMinutes  int       `json:"focusMinutes"`
	DeepFocusMode bool      `json:"deepFocusMode"`
	BreakMinutes  int       `json:"breakMinutes"`
	Version       int       `json:"version"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

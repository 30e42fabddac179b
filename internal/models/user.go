package models

import "time"

// User is an account that can own and edit documents.
// The username is the identity carried by tokens and listed in document ACLs.
type User struct {
	Username     string    `json:"username" gorm:"type:varchar(64);primaryKey"`
	Name         string    `json:"name" gorm:"type:text;not null"`
	PasswordHash string    `json:"-" gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

type Credentials struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

package domain

import "time"

// User is the local account. ClientID is the bound Axiam client id (empty until first
// facial login or signup completion); once set it never changes.
type User struct {
	UserID       string    `json:"id" dynamodbav:"user_id"`
	Email        string    `json:"email" dynamodbav:"email"`
	FullName     string    `json:"full_name" dynamodbav:"full_name"`
	ClientID     string    `json:"client_id,omitempty" dynamodbav:"axiam_uid,omitempty"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	AvatarKey    string    `json:"-" dynamodbav:"avatar_key,omitempty"`
	Enable       bool      `json:"enable" dynamodbav:"enable"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated" dynamodbav:"updated_at"`
}

// FacialEnabled reports whether the user has a bound vendor client id.
func (u *User) FacialEnabled() bool { return u.ClientID != "" }

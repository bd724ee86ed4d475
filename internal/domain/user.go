package domain

import "time"

type User struct {
	ID        string    `json:"id" dynamodbav:"user_id"`
	Name      string    `json:"name" dynamodbav:"name"`
	Email     *string   `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
}

// ResolutionKind distinguishes a login from an implicit sign-up.
type ResolutionKind string

const (
	ResolutionExisting ResolutionKind = "existing"
	ResolutionCreated  ResolutionKind = "created"
)

// Resolution is the result of mapping a verified identifier to a user.
type Resolution struct {
	User *User
	Kind ResolutionKind
}

// Created reports whether the user record was created by this resolution.
func (r Resolution) Created() bool { return r.Kind == ResolutionCreated }

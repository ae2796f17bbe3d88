// Package models holds the DTOs exchanged with the remote shortener API and
// the profile persisted in the durable session.
package models

import (
	"strings"
	"time"
)

// StoredUser is the small profile cached next to the bearer token.
type StoredUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Valid reports whether the profile carries the fields a logged-in session needs.
func (u *StoredUser) Valid() bool {
	return u != nil && strings.TrimSpace(u.Name) != "" && strings.TrimSpace(u.Email) != ""
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=100"`
}

// AuthResponse is returned by both login and registration.
type AuthResponse struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Profile extracts the part of the response that is persisted.
func (r AuthResponse) Profile() StoredUser {
	return StoredUser{Name: r.Name, Email: r.Email}
}

type CreateURLRequest struct {
	OriginalURL string `json:"originalUrl" validate:"required,url"`
	CustomCode  string `json:"customCode,omitempty" validate:"omitempty,shortcode"`
}

type UpdateURLRequest struct {
	OriginalURL string `json:"originalUrl" validate:"required,url"`
	CustomCode  string `json:"customCode,omitempty" validate:"omitempty,shortcode"`
}

// URLResponse is one shortened link as the API reports it.
type URLResponse struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	OriginalURL string     `json:"originalUrl"`
	ShortURL    string     `json:"shortUrl"`
	ClickCount  int64      `json:"clickCount"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastClickAt *time.Time `json:"lastClickAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type URLList []URLResponse

// APIErrorBody is the structured error payload the API sends with non-2xx responses.
type APIErrorBody struct {
	Message   string `json:"message"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	Timestamp string `json:"timestamp"`
}

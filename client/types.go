package client

import "time"

// User is the profile of the signed-in identity.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"fullName"`
	Role         string `json:"role"`
	Username     string `json:"username"`
	StorageUsed  int64  `json:"storageUsed"`
	StorageQuota int64  `json:"storageQuota"`
}

// Document is a stored document as listed by the server.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum,omitempty"`
	CategoryID  string    `json:"categoryId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Category groups documents.
type Category struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DocumentCount int    `json:"documentCount"`
}

// Bookmark marks a document for quick access.
type Bookmark struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RegisterRequest is the payload of a new account.
type RegisterRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

// tokenResponse is the body of the login, register and refresh endpoints.
type tokenResponse struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn,omitempty"`
	User             *User  `json:"user,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e errorResponse) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

package model

// User is a registered account. PasswordHash is never serialized.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// CredentialsRequest is the body of register and login calls.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the session token and the resolved conversation.
type LoginResponse struct {
	Token        string        `json:"token"`
	ExpiresAt    int64         `json:"expires_at"`
	User         *User         `json:"user"`
	Conversation *Conversation `json:"conversation"`
}

package model

// CredentialsRequest is the body of email/password sign-in and sign-up.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GoogleSignInRequest carries a Google ID token.
type GoogleSignInRequest struct {
	IDToken string `json:"id_token"`
}

// PasswordResetRequest requests a password reset email.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

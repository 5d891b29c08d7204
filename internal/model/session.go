package model

// AccessSession is the client's authenticated session.
type AccessSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SubjectID    string `json:"subject_id"`
	Role         string `json:"role"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is the body returned by POST /auth/refresh.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

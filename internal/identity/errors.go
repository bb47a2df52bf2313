package identity

import "errors"

// Account errors.
var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidLogin       = errors.New("invalid login")
	ErrRoleNotFound       = errors.New("role not found")
)

// Token errors.
var (
	ErrInvalidToken         = errors.New("invalid token")
	ErrRefreshTokenNotFound = errors.New("refresh token is not in database")
	ErrRefreshTokenExpired  = errors.New("refresh token was expired")
)

// ExpiredRefreshTokenError reports a refresh token rejected at use time.
// The token has already been deleted from the store.
type ExpiredRefreshTokenError struct {
	Token string
}

func (e *ExpiredRefreshTokenError) Error() string {
	return "refresh token was expired, please make a new signin request"
}

// Is makes errors.Is(err, ErrRefreshTokenExpired) match.
func (e *ExpiredRefreshTokenError) Is(target error) bool {
	return target == ErrRefreshTokenExpired
}

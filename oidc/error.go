package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidConfiguration       = errors.New("invalid configuration")
	ErrIdGeneratorFailed          = errors.New("id generation failed")
	ErrTokenExchangeFailed        = errors.New("token exchange failed")
	ErrClaimsDecodeFailed         = errors.New("claims decode failed")
	ErrUserInfoFailed             = errors.New("user info failed")
	ErrMissingIdToken             = errors.New("id_token is missing")
	ErrUnsupportedChallengeMethod = errors.New("unsupported challenge method")
)

package storage

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrFormNotFound         = errors.New("form not found")
	ErrResponseNotFound     = errors.New("response not found")
)

package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	NotFound            = 404
	InternalServerError = 500
)

var (
	ErrParamInvalid         = errors.New("invalid parameters")
	ErrNoToken              = errors.New("no token provided")
	ErrInvalidToken         = errors.New("invalid token")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExist            = errors.New("username already taken")
	ErrPasswordIncorrect    = errors.New("invalid credentials")
	ErrTargetUserInvalid    = errors.New("invalid target user")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotificationNotFound = errors.New("notification not found")
	UnauthorizedError       = errors.New("unauthorized")
	UnExpectedError         = errors.New("unexpected error, try again later")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:         BadRequest,
	ErrNoToken:              Unauthorized,
	ErrInvalidToken:         Unauthorized,
	ErrUserNotFound:         NotFound,
	ErrUserExist:            BadRequest,
	ErrPasswordIncorrect:    Unauthorized,
	ErrTargetUserInvalid:    BadRequest,
	ErrConversationNotFound: NotFound,
	ErrNotificationNotFound: NotFound,
	UnauthorizedError:       Unauthorized,
	UnExpectedError:         InternalServerError,
}

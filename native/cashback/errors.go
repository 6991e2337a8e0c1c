package cashback

import "errors"

var (
	ErrUnauthorized          = errors.New("cashback: unauthorized")
	ErrInvalidPercentage     = errors.New("cashback: percentage out of range")
	ErrZeroAmount            = errors.New("cashback: amount must be positive")
	ErrInvalidValidityWindow = errors.New("cashback: validity window must be positive")
	ErrRuleNotFound          = errors.New("cashback: rule not found")
	ErrRuleExpired           = errors.New("cashback: rule expired")
	ErrLimitExceeded         = errors.New("cashback: cumulative limit exceeded")
	ErrInsufficientFunds     = errors.New("cashback: insufficient reserve funds")
	ErrAlreadyPaused         = errors.New("cashback: already paused")
	ErrNotPaused             = errors.New("cashback: not paused")
	ErrZeroAddress           = errors.New("cashback: zero address")
	ErrReentrantCall         = errors.New("cashback: reentrant call")
	ErrAdminInitialized      = errors.New("cashback: admin already initialized")
)

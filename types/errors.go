package types

import "errors"

// 共识与账本错误分类，调用方用 errors.Is 判断
var (
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrWrongLeader         = errors.New("wrong leader for view")
	ErrStaleView           = errors.New("stale view")
	ErrSuspiciousViewJump  = errors.New("suspicious view jump")
	ErrUnsafeExtension     = errors.New("proposal does not extend locked qc")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNonceMismatch       = errors.New("nonce mismatch")
	ErrDuplicateVote       = errors.New("duplicate vote")
	ErrEquivocation        = errors.New("equivocation")
	ErrMalformedMessage    = errors.New("malformed message")
)

// 账本本地错误
var (
	ErrExpired              = errors.New("transaction expired")
	ErrTooManyDenominations = errors.New("too many denominations")
	ErrOverflow             = errors.New("arithmetic overflow")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrUnknownAccount       = errors.New("unknown account")
	ErrNotFound             = errors.New("not found")
)

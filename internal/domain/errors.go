package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientHistory = errors.New("insufficient candle history")
	ErrInsufficientBalance = errors.New("insufficient balance for minimum margin")
	ErrPositionExists      = errors.New("position already open for symbol")
	ErrPositionNotFound    = errors.New("no open position for symbol")
	ErrNoLivePrice         = errors.New("no live price for symbol")
	ErrSignalRateLimited   = errors.New("signal generator rate limited")
	ErrSignalUnavailable   = errors.New("signal generator returned no decision")
	ErrInvalidDecision     = errors.New("invalid trade decision")
	ErrUnknownSymbol       = errors.New("symbol is not in the asset list")
)

package service

import (
	"context"
	"errors"
	"fmt"

	"gate-service/internal/repository"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidImage       = errors.New("invalid image")
	ErrUnreadableImage    = errors.New("unable to read image dimensions")
	ErrInvalidSensorState = errors.New("invalid sensor state")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrNoActiveCredential = repository.ErrNoActiveCredential
)

// Publisher delivers an event to every subscriber of a channel.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload interface{}) error
}

// mapRepoError translates repository sentinels into service sentinels.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrDuplicate):
		return ErrConflict
	case errors.Is(err, repository.ErrMissingSecret):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	default:
		return err
	}
}

package pubsub

import (
	"context"
	"errors"
)

type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload interface{}) error
}

// Fanout publishes to every target and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, channel, event string, payload interface{}) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, channel, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

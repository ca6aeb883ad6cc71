package telegram

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Poller feeds the dispatcher from getUpdates when no webhook is configured.
type Poller struct {
	Client     *Client
	Dispatcher *Dispatcher

	// Timeout is the server-side poll window in seconds.
	Timeout int
	// Backoff is the pause after a failed poll.
	Backoff time.Duration

	Log zerolog.Logger
}

// Run polls until ctx is done. Offsets advance past every received update,
// including ones whose dispatch failed.
func (p *Poller) Run(ctx context.Context) error {
	var offset int
	p.Log.Info().Msg("long polling started")
	for {
		updates, err := p.Client.GetUpdates(ctx, offset, p.Timeout)
		if ctx.Err() != nil {
			p.Log.Info().Msg("long polling stopped")
			return nil
		}
		if err != nil {
			p.Log.Warn().Err(err).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.Backoff):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if err := p.Dispatcher.Dispatch(ctx, u); err != nil {
				p.Log.Error().Err(err).Int("update_id", u.UpdateID).Msg("dispatch failed")
			}
		}
	}
}

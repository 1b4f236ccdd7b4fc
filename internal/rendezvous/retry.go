package rendezvous

import (
	"context"
	"errors"
	"time"
)

// RegisterWithRetry calls Client.Register up to attempts times, backing off
// by backoffBase * 2^n between transport failures. A ServerError is
// returned immediately without retrying — it reflects a rejected request,
// not a flaky connection, matching original_source/rendezvous_client.py's
// distinction between RendezvousConnectionError and RendezvousServerErro.
func (c *Client) RegisterWithRetry(ctx context.Context, req RegisterRequest, attempts int, backoffBase time.Duration) (RegisterResponse, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := c.Register(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			return RegisterResponse{}, err
		}

		if attempt < attempts-1 {
			delay := backoffBase * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return RegisterResponse{}, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return RegisterResponse{}, lastErr
}

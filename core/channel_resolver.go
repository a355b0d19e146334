package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultResolverAttempts = 3
	defaultResolverBackoff  = time.Second
)

type ChannelResolverOption func(*ChannelResolver)

func WithResolverAttempts(attempts int) ChannelResolverOption {
	return func(r *ChannelResolver) {
		if r == nil || attempts < 1 {
			return
		}
		r.attempts = attempts
	}
}

func WithResolverBackoff(backoff time.Duration) ChannelResolverOption {
	return func(r *ChannelResolver) {
		if r == nil || backoff < 0 {
			return
		}
		r.backoff = backoff
	}
}

// WithResolverSleep replaces the inter-attempt wait, so tests can observe
// retries without real delays.
func WithResolverSleep(sleep func(context.Context, time.Duration)) ChannelResolverOption {
	return func(r *ChannelResolver) {
		if r == nil || sleep == nil {
			return
		}
		r.sleep = sleep
	}
}

func WithResolverProductName(name string) ChannelResolverOption {
	return func(r *ChannelResolver) {
		if r == nil || strings.TrimSpace(name) == "" {
			return
		}
		r.productName = strings.TrimSpace(name)
	}
}

// ChannelResolver finds, creates, reuses, or unarchives a remote channel.
// Every remote call is retried on the transient "operation in progress"
// signal with a fixed backoff, up to the configured attempt count; the
// retry blocks only the calling operation and holds no shared state.
type ChannelResolver struct {
	api         ChannelAPI
	logger      Logger
	attempts    int
	backoff     time.Duration
	sleep       func(context.Context, time.Duration)
	productName string
}

func NewChannelResolver(api ChannelAPI, logger Logger, opts ...ChannelResolverOption) (*ChannelResolver, error) {
	if api == nil {
		return nil, fmt.Errorf("core: channel api is required")
	}
	r := &ChannelResolver{
		api:      api,
		logger:   logger,
		attempts: defaultResolverAttempts,
		backoff:  defaultResolverBackoff,
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
		productName: "DevOps Toolchain",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// DefaultChannelText is the topic/purpose applied to channels this system
// creates when the caller supplied none.
func (r *ChannelResolver) DefaultChannelText() string {
	return "Notifications from " + r.productName
}

// Resolve implements the channel-acquisition algorithm. When the request
// names a channel id the channel is fetched (public first, then private)
// and unarchived if needed. When it names only a channel name, creation is
// attempted; a name collision falls back to locating the existing channel
// by its normalized name in the public then private listings. A failure
// applying topic or purpose after creation is returned to the caller, but
// the created channel is not rolled back.
func (r *ChannelResolver) Resolve(ctx context.Context, req ResolveChannelRequest) (ChannelResolution, error) {
	if r == nil || r.api == nil {
		return ChannelResolution{}, fmt.Errorf("core: channel resolver is not configured")
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return ChannelResolution{}, newBrokerError(
			"core: channel api token is required",
			goerrors.CategoryBadInput, BrokerErrorBadInput,
		)
	}
	channelID := strings.TrimSpace(req.ChannelID)
	channelName := strings.TrimSpace(req.ChannelName)
	if channelID == "" && channelName == "" {
		return ChannelResolution{}, newBrokerError(
			"core: either channel id or channel name is required",
			goerrors.CategoryBadInput, BrokerErrorBadInput,
		)
	}

	if channelID != "" {
		channel, err := r.lookupByID(ctx, token, channelID)
		if err != nil {
			return ChannelResolution{}, err
		}
		channel, err = r.reactivate(ctx, token, channel)
		if err != nil {
			return ChannelResolution{}, err
		}
		return ChannelResolution{Channel: channel}, nil
	}

	created, err := retryTransient(ctx, r, func(ctx context.Context) (RemoteChannel, error) {
		return r.api.CreateChannel(ctx, token, channelName)
	})
	switch {
	case err == nil:
		resolution := ChannelResolution{Channel: created, WasCreated: true}
		if themeErr := r.applyTheme(ctx, token, created.ID, req.Topic, req.Purpose); themeErr != nil {
			return resolution, themeErr
		}
		return resolution, nil
	case errors.Is(err, ErrChannelNameTaken):
		channel, findErr := r.findByName(ctx, token, channelName)
		if findErr != nil {
			return ChannelResolution{}, findErr
		}
		channel, findErr = r.reactivate(ctx, token, channel)
		if findErr != nil {
			return ChannelResolution{}, findErr
		}
		return ChannelResolution{Channel: channel}, nil
	default:
		return ChannelResolution{}, err
	}
}

// lookupByID fetches the channel from the public namespace, falling back to
// the private namespace on not-found. The id space is shared; only the
// remote endpoint differs.
func (r *ChannelResolver) lookupByID(ctx context.Context, token string, channelID string) (RemoteChannel, error) {
	channel, err := retryTransient(ctx, r, func(ctx context.Context) (RemoteChannel, error) {
		return r.api.GetChannel(ctx, token, channelID, false)
	})
	if err == nil {
		return channel, nil
	}
	if !errors.Is(err, ErrChannelNotFound) {
		return RemoteChannel{}, err
	}
	channel, err = retryTransient(ctx, r, func(ctx context.Context) (RemoteChannel, error) {
		return r.api.GetChannel(ctx, token, channelID, true)
	})
	if err == nil {
		return channel, nil
	}
	if errors.Is(err, ErrChannelNotFound) {
		return RemoteChannel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	return RemoteChannel{}, err
}

// findByName scans the public, then the private, channel listing for an
// exact match on the normalized requested name.
func (r *ChannelResolver) findByName(ctx context.Context, token string, requested string) (RemoteChannel, error) {
	normalized := NormalizeChannelName(requested)
	for _, private := range []bool{false, true} {
		channels, err := retryTransient(ctx, r, func(ctx context.Context) ([]RemoteChannel, error) {
			return r.api.ListChannels(ctx, token, private)
		})
		if err != nil {
			return RemoteChannel{}, err
		}
		for _, channel := range channels {
			if channel.Name == normalized {
				return channel, nil
			}
		}
	}
	return RemoteChannel{}, fmt.Errorf("%w: %s", ErrChannelNotAccessible, normalized)
}

func (r *ChannelResolver) reactivate(ctx context.Context, token string, channel RemoteChannel) (RemoteChannel, error) {
	if !channel.IsArchived {
		return channel, nil
	}
	_, err := retryTransient(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.api.Unarchive(ctx, token, channel.ID)
	})
	if err != nil {
		return RemoteChannel{}, err
	}
	channel.IsArchived = false
	return channel, nil
}

// applyTheme sets topic then purpose as two sequential steps. A later step
// failing does not undo an earlier one.
func (r *ChannelResolver) applyTheme(ctx context.Context, token string, channelID string, topic string, purpose string) error {
	if strings.TrimSpace(topic) == "" {
		topic = r.DefaultChannelText()
	}
	if strings.TrimSpace(purpose) == "" {
		purpose = r.DefaultChannelText()
	}
	_, err := retryTransient(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.api.SetTopic(ctx, token, channelID, topic)
	})
	if err != nil {
		return err
	}
	_, err = retryTransient(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.api.SetPurpose(ctx, token, channelID, purpose)
	})
	return err
}

// retryTransient retries fn on the transient in-progress signal with a
// fixed backoff, surfacing the last error once attempts are exhausted.
// Permanent failures return immediately.
func retryTransient[T any](
	ctx context.Context,
	r *ChannelResolver,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrOperationInProgress) {
			return zero, err
		}
		lastErr = err
		if attempt == r.attempts {
			break
		}
		if r.logger != nil {
			r.logger.Debug("channel api busy, retrying",
				"attempt", attempt,
				"backoff_ms", r.backoff.Milliseconds(),
			)
		}
		r.sleep(ctx, r.backoff)
		if ctx != nil && ctx.Err() != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

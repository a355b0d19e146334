package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type stubChannelAPI struct {
	mu sync.Mutex

	identityFn   func(token string) (UserIdentity, error)
	getFn        func(token string, channelID string, private bool) (RemoteChannel, error)
	createFn     func(token string, name string) (RemoteChannel, error)
	setTopicFn   func(token string, channelID string, topic string) error
	setPurposeFn func(token string, channelID string, purpose string) error
	unarchiveFn  func(token string, channelID string) error
	listFn       func(token string, private bool) ([]RemoteChannel, error)
	postFn       func(token string, msg ChannelMessage) error

	identityCalls  int
	getCalls       int
	createCalls    int
	unarchiveCalls int
	listCalls      int
	topics         []string
	purposes       []string
	posted         []ChannelMessage
}

func (s *stubChannelAPI) IdentityCheck(_ context.Context, token string) (UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identityCalls++
	if s.identityFn != nil {
		return s.identityFn(token)
	}
	return UserIdentity{UserID: "U1", UserName: "broker-bot"}, nil
}

func (s *stubChannelAPI) GetChannel(_ context.Context, token string, channelID string, private bool) (RemoteChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getFn != nil {
		return s.getFn(token, channelID, private)
	}
	return RemoteChannel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
}

func (s *stubChannelAPI) CreateChannel(_ context.Context, token string, name string) (RemoteChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createFn != nil {
		return s.createFn(token, name)
	}
	normalized := NormalizeChannelName(name)
	return RemoteChannel{ID: "C-" + normalized, Name: normalized}, nil
}

func (s *stubChannelAPI) SetTopic(_ context.Context, token string, channelID string, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
	if s.setTopicFn != nil {
		return s.setTopicFn(token, channelID, topic)
	}
	return nil
}

func (s *stubChannelAPI) SetPurpose(_ context.Context, token string, channelID string, purpose string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purposes = append(s.purposes, purpose)
	if s.setPurposeFn != nil {
		return s.setPurposeFn(token, channelID, purpose)
	}
	return nil
}

func (s *stubChannelAPI) Unarchive(_ context.Context, token string, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unarchiveCalls++
	if s.unarchiveFn != nil {
		return s.unarchiveFn(token, channelID)
	}
	return nil
}

func (s *stubChannelAPI) ListChannels(_ context.Context, token string, private bool) ([]RemoteChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listFn != nil {
		return s.listFn(token, private)
	}
	return nil, nil
}

func (s *stubChannelAPI) PostMessage(_ context.Context, token string, msg ChannelMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = append(s.posted, msg)
	if s.postFn != nil {
		return s.postFn(token, msg)
	}
	return nil
}

func newTestResolver(t *testing.T, api ChannelAPI, opts ...ChannelResolverOption) *ChannelResolver {
	t.Helper()
	resolver, err := NewChannelResolver(api, glog.Nop(), opts...)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return resolver
}

func TestChannelResolver_RequiresTokenAndTarget(t *testing.T) {
	resolver := newTestResolver(t, &stubChannelAPI{})

	if _, err := resolver.Resolve(context.Background(), ResolveChannelRequest{ChannelName: "general"}); err == nil {
		t.Fatalf("expected missing token to fail")
	}
	if _, err := resolver.Resolve(context.Background(), ResolveChannelRequest{Token: "xoxb-1"}); err == nil {
		t.Fatalf("expected missing channel id and name to fail")
	}
}

func TestChannelResolver_LookupByIDUnarchives(t *testing.T) {
	api := &stubChannelAPI{
		getFn: func(_ string, channelID string, private bool) (RemoteChannel, error) {
			if private {
				return RemoteChannel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
			}
			return RemoteChannel{ID: channelID, Name: "ops", IsArchived: true}, nil
		},
	}
	resolver := newTestResolver(t, api)

	resolution, err := resolver.Resolve(context.Background(), ResolveChannelRequest{
		Token:     "xoxb-1",
		ChannelID: "C42",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolution.WasCreated {
		t.Fatalf("looked-up channel must not read as created")
	}
	if resolution.Channel.IsArchived {
		t.Fatalf("expected channel to be reactivated")
	}
	if api.unarchiveCalls != 1 {
		t.Fatalf("expected one unarchive call, got %d", api.unarchiveCalls)
	}
}

func TestChannelResolver_LookupByIDFallsBackToPrivate(t *testing.T) {
	api := &stubChannelAPI{
		getFn: func(_ string, channelID string, private bool) (RemoteChannel, error) {
			if !private {
				return RemoteChannel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
			}
			return RemoteChannel{ID: channelID, Name: "secret-ops"}, nil
		},
	}
	resolver := newTestResolver(t, api)

	resolution, err := resolver.Resolve(context.Background(), ResolveChannelRequest{
		Token:     "xoxb-1",
		ChannelID: "G9",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolution.Channel.Name != "secret-ops" {
		t.Fatalf("expected private channel, got %q", resolution.Channel.Name)
	}
	if api.getCalls != 2 {
		t.Fatalf("expected public then private lookup, got %d calls", api.getCalls)
	}
}

func TestChannelResolver_CreateAppliesDefaultTheme(t *testing.T) {
	api := &stubChannelAPI{}
	resolver := newTestResolver(t, api, WithResolverProductName("Continuous Delivery"))

	resolution, err := resolver.Resolve(context.Background(), ResolveChannelRequest{
		Token:       "xoxb-1",
		ChannelName: "Release Alerts",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolution.WasCreated {
		t.Fatalf("expected creation")
	}
	if resolution.Channel.Name != "release-alerts" {
		t.Fatalf("unexpected channel name %q", resolution.Channel.Name)
	}
	want := "Notifications from Continuous Delivery"
	if len(api.topics) != 1 || api.topics[0] != want {
		t.Fatalf("unexpected topics %v", api.topics)
	}
	if len(api.purposes) != 1 || api.purposes[0] != want {
		t.Fatalf("unexpected purposes %v", api.purposes)
	}
}

func TestChannelResolver_ThemeFailureKeepsCreatedChannel(t *testing.T) {
	api := &stubChannelAPI{
		setPurposeFn: func(string, string, string) error {
			return errors.New("purpose rejected")
		},
	}
	resolver := newTestResolver(t, api)

	resolution, err := resolver.Resolve(context.Background(), ResolveChannelRequest{
		Token:       "xoxb-1",
		ChannelName: "ops",
	})
	if err == nil {
		t.Fatalf("expected theme failure to surface")
	}
	if !resolution.WasCreated || resolution.Channel.ID == "" {
		t.Fatalf("expected created channel alongside the error, got %+v", resolution)
	}
	if len(api.topics) != 1 {
		t.Fatalf("topic step should have run before the failing purpose step")
	}
}

func TestChannelResolver_NameTakenFindsPrivateChannel(t *testing.T) {
	api := &stubChannelAPI{
		createFn: func(_ string, name string) (RemoteChannel, error) {
			return RemoteChannel{}, fmt.Errorf("%w: %s", ErrChannelNameTaken, name)
		},
		listFn: func(_ string, private bool) ([]RemoteChannel, error) {
			if !private {
				return []RemoteChannel{{ID: "C1", Name: "general"}}, nil
			}
			return []RemoteChannel{{ID: "G7", Name: "release-alerts", IsArchived: true}}, nil
		},
	}
	resolver := newTestResolver(t, api)

	resolution, err := resolver.Resolve(context.Background(), ResolveChannelRequest{
		Token:       "xoxb-1",
		ChannelName: "Release Alerts",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolution.WasCreated {
		t.Fatalf("adopted channel must not read as created")
	}
	if resolution.Channel.ID != "G7" {
		t.Fatalf("expected private match, got %+v", resolution.Channel)
	}
	if resolution.Channel.IsArchived || api.unarchiveCalls != 1 {
		t.Fatalf("expected adopted channel to be reactivated")
	}
	if len(api.topics) != 0 {
		t.Fatalf("adopted channel must keep its theme")
	}
}

func TestChannelResolver_NameTakenButInvisibleFails(t *testing.T) {
	api := &stubChannelAPI{
		createFn: func(_ string, name string) (RemoteChannel, error) {
			return RemoteChannel{}, fmt.Errorf("%w: %s", ErrChannelNameTaken, name)
		},
	}
	resolver := newTestResolver(t, api)

	_, err := resolver.Resolve(context.Background(), ResolveChannelRequest{
		Token:       "xoxb-1",
		ChannelName: "hidden",
	})
	if !errors.Is(err, ErrChannelNotAccessible) {
		t.Fatalf("expected ErrChannelNotAccessible, got %v", err)
	}
	if api.listCalls != 2 {
		t.Fatalf("expected public and private listings, got %d", api.listCalls)
	}
}

func TestChannelResolver_RetriesTransientThenSucceeds(t *testing.T) {
	sleeps := 0
	attempts := 0
	api := &stubChannelAPI{
		createFn: func(_ string, name string) (RemoteChannel, error) {
			attempts++
			if attempts < 3 {
				return RemoteChannel{}, ErrOperationInProgress
			}
			return RemoteChannel{ID: "C-new", Name: NormalizeChannelName(name)}, nil
		},
	}
	resolver := newTestResolver(t, api,
		WithResolverSleep(func(context.Context, time.Duration) { sleeps++ }),
	)

	resolution, err := resolver.Resolve(context.Background(), ResolveChannelRequest{
		Token:       "xoxb-1",
		ChannelName: "ops",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolution.WasCreated {
		t.Fatalf("expected creation after retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if sleeps != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", sleeps)
	}
}

func TestChannelResolver_TransientExhaustionSurfacesLastError(t *testing.T) {
	attempts := 0
	api := &stubChannelAPI{
		createFn: func(string, string) (RemoteChannel, error) {
			attempts++
			return RemoteChannel{}, ErrOperationInProgress
		},
	}
	resolver := newTestResolver(t, api,
		WithResolverSleep(func(context.Context, time.Duration) {}),
	)

	_, err := resolver.Resolve(context.Background(), ResolveChannelRequest{
		Token:       "xoxb-1",
		ChannelName: "ops",
	})
	if !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected the transient error to surface, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestChannelResolver_PermanentErrorDoesNotRetry(t *testing.T) {
	attempts := 0
	api := &stubChannelAPI{
		createFn: func(string, string) (RemoteChannel, error) {
			attempts++
			return RemoteChannel{}, errors.New("invalid_auth")
		},
	}
	resolver := newTestResolver(t, api,
		WithResolverSleep(func(context.Context, time.Duration) {}),
	)

	if _, err := resolver.Resolve(context.Background(), ResolveChannelRequest{
		Token:       "xoxb-1",
		ChannelName: "ops",
	}); err == nil {
		t.Fatalf("expected permanent error to surface")
	}
	if attempts != 1 {
		t.Fatalf("permanent failure must not retry, got %d attempts", attempts)
	}
}

package firebaseclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
)

// blockingTransport lets a test hold one call open while a concurrent call
// on the same endpoint is attempted, to exercise the one-in-flight rule.
type blockingTransport struct {
	release chan struct{}
}

func (b *blockingTransport) TerminalCheckin(_ context.Context, tagUID string) (CheckinResult, error) {
	<-b.release
	return CheckinResult{Authorized: true, UserID: "u1", UserLabel: "Alice"}, nil
}
func (b *blockingTransport) AuthenticateTag(context.Context, string, byte, []byte) (AuthChallenge, error) {
	return AuthChallenge{}, nil
}
func (b *blockingTransport) CompleteTagAuth(context.Context, string, []byte) (CompleteAuthResult, error) {
	return CompleteAuthResult{}, nil
}
func (b *blockingTransport) UploadUsage(context.Context, []byte) error { return nil }
func (b *blockingTransport) Personalize(context.Context, string) (PersonalizeResult, error) {
	return PersonalizeResult{}, nil
}

func TestTerminalCheckinRejectsConcurrentCallOnSameEndpoint(t *testing.T) {
	t.Parallel()
	transport := &blockingTransport{release: make(chan struct{})}
	c := New(transport)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.TerminalCheckin(context.Background(), "tag-1")
		require.NoError(t, err)
	}()

	// Give the first call time to claim the busy flag.
	time.Sleep(20 * time.Millisecond)

	_, err := c.TerminalCheckin(context.Background(), "tag-2")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Unavailable))

	close(transport.release)
	wg.Wait()

	// Now that the first call resolved, the endpoint is free again.
	transport.release = make(chan struct{})
	close(transport.release)
	_, err = c.TerminalCheckin(context.Background(), "tag-3")
	require.NoError(t, err)
}

type staticTransport struct{}

func (staticTransport) TerminalCheckin(context.Context, string) (CheckinResult, error) {
	return CheckinResult{Authorized: false, Message: "unknown tag"}, nil
}
func (staticTransport) AuthenticateTag(context.Context, string, byte, []byte) (AuthChallenge, error) {
	return AuthChallenge{AuthID: "A1", CloudChallenge: [32]byte{1, 2, 3}}, nil
}
func (staticTransport) CompleteTagAuth(context.Context, string, []byte) (CompleteAuthResult, error) {
	return CompleteAuthResult{Accepted: true, SesEncKey: [16]byte{9}}, nil
}
func (staticTransport) UploadUsage(context.Context, []byte) error { return nil }
func (staticTransport) Personalize(context.Context, string) (PersonalizeResult, error) {
	return PersonalizeResult{}, nil
}

func TestTerminalCheckinSurfacesRejectionAsValueNotError(t *testing.T) {
	t.Parallel()
	c := New(staticTransport{})
	res, err := c.TerminalCheckin(context.Background(), "tag-unknown")
	require.NoError(t, err)
	require.False(t, res.Authorized)
	require.Equal(t, "unknown tag", res.Message)
}

func TestAuthenticateTagReturnsChallenge(t *testing.T) {
	t.Parallel()
	c := New(staticTransport{})
	res, err := c.AuthenticateTag(context.Background(), "tag-1", 1, make([]byte, 16))
	require.NoError(t, err)
	require.Equal(t, "A1", res.AuthID)
}

func TestSequentialCallsToDifferentEndpointsDoNotBlockEachOther(t *testing.T) {
	t.Parallel()
	c := New(staticTransport{})
	_, err := c.TerminalCheckin(context.Background(), "tag-1")
	require.NoError(t, err)
	_, err = c.AuthenticateTag(context.Background(), "tag-1", 1, make([]byte, 16))
	require.NoError(t, err)
}

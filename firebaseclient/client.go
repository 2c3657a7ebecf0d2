// Package firebaseclient is a typed RPC facade over a generic
// forward(endpoint, bytes) -> bytes transport to the cloud gateway. Each
// endpoint allows at most one in-flight call at a time; a caller that
// invokes an endpoint while a prior call on the same endpoint has not yet
// resolved gets Unavailable immediately rather than queuing.
package firebaseclient

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
)

var log = logrus.WithField("component", "firebaseclient")

// Transport performs the wire-level round trip for one endpoint. Its
// request/response encoding is out of scope (see spec Non-goals); Client
// deals only in the typed Go values below.
type Transport interface {
	TerminalCheckin(ctx context.Context, tagUID string) (CheckinResult, error)
	AuthenticateTag(ctx context.Context, tagUID string, keySlot byte, encryptedRndB []byte) (AuthChallenge, error)
	CompleteTagAuth(ctx context.Context, authID string, encryptedPart3 []byte) (CompleteAuthResult, error)
	UploadUsage(ctx context.Context, batch []byte) error
	Personalize(ctx context.Context, tagUID string) (PersonalizeResult, error)
}

// CheckinResult is the oneof response of /api/terminalCheckin.
type CheckinResult struct {
	Authorized bool
	UserID     string
	UserLabel  string
	AuthID     string // empty when no existing auth_id was returned
	Message    string // set when !Authorized
}

// AuthChallenge is the response of /api/authenticateTag.
type AuthChallenge struct {
	AuthID         string
	CloudChallenge [32]byte
}

// CompleteAuthResult is the oneof response of /api/completeTagAuth.
type CompleteAuthResult struct {
	Accepted         bool
	SesEncKey        [16]byte
	SesMacKey        [16]byte
	TI               [4]byte
	PICCCapabilities [6]byte
	Message          string // set when !Accepted
}

// PersonalizeResult is the four diversified key slots returned by
// /api/personalize. Provisioning itself stays out of scope (spec
// Non-goals); this type exists so the endpoint has a typed home.
type PersonalizeResult struct {
	Application   [16]byte
	Authorization [16]byte
	SDMMac        [16]byte
	Reserved2     [16]byte
}

// Client wraps a Transport with the one-in-flight-per-endpoint concurrency
// guard and structured logging. A correlation id is minted per call (with
// google/uuid, mirroring the reference corpus's request-id convention) for
// log correlation across the terminal and cloud sides.
type Client struct {
	transport Transport

	checkinBusy      atomic.Bool
	authenticateBusy atomic.Bool
	completeBusy     atomic.Bool
	uploadBusy       atomic.Bool
	personalizeBusy  atomic.Bool
}

// New constructs a Client over the given Transport.
func New(transport Transport) *Client {
	return &Client{transport: transport}
}

// acquire claims busy for the duration of one call, returning Unavailable
// if another call on the same endpoint is already in flight.
func acquire(busy *atomic.Bool, endpoint string) error {
	if !busy.CompareAndSwap(false, true) {
		return errs.Newf(errs.Unavailable, "firebaseclient: %s already in flight", endpoint)
	}
	return nil
}

func (c *Client) TerminalCheckin(ctx context.Context, tagUID string) (CheckinResult, error) {
	const endpoint = "terminalCheckin"
	if err := acquire(&c.checkinBusy, endpoint); err != nil {
		return CheckinResult{}, err
	}
	defer c.checkinBusy.Store(false)

	reqID := uuid.New().String()
	entry := log.WithField("request_id", reqID).WithField("endpoint", endpoint).WithField("tag_uid", tagUID)
	entry.Debug("calling terminalCheckin")

	res, err := c.transport.TerminalCheckin(ctx, tagUID)
	if err != nil {
		entry.WithError(err).Warn("terminalCheckin failed")
		return CheckinResult{}, errs.New(errs.CloudError, err)
	}
	if !res.Authorized {
		entry.WithField("message", res.Message).Info("terminalCheckin rejected")
	}
	return res, nil
}

func (c *Client) AuthenticateTag(ctx context.Context, tagUID string, keySlot byte, encryptedRndB []byte) (AuthChallenge, error) {
	const endpoint = "authenticateTag"
	if err := acquire(&c.authenticateBusy, endpoint); err != nil {
		return AuthChallenge{}, err
	}
	defer c.authenticateBusy.Store(false)

	entry := log.WithField("request_id", uuid.New().String()).WithField("endpoint", endpoint).WithField("tag_uid", tagUID)
	entry.Debug("calling authenticateTag")

	res, err := c.transport.AuthenticateTag(ctx, tagUID, keySlot, encryptedRndB)
	if err != nil {
		entry.WithError(err).Warn("authenticateTag failed")
		return AuthChallenge{}, errs.New(errs.CloudError, err)
	}
	return res, nil
}

func (c *Client) CompleteTagAuth(ctx context.Context, authID string, encryptedPart3 []byte) (CompleteAuthResult, error) {
	const endpoint = "completeTagAuth"
	if err := acquire(&c.completeBusy, endpoint); err != nil {
		return CompleteAuthResult{}, err
	}
	defer c.completeBusy.Store(false)

	entry := log.WithField("request_id", uuid.New().String()).WithField("endpoint", endpoint).WithField("auth_id", authID)
	entry.Debug("calling completeTagAuth")

	res, err := c.transport.CompleteTagAuth(ctx, authID, encryptedPart3)
	if err != nil {
		entry.WithError(err).Warn("completeTagAuth failed")
		return CompleteAuthResult{}, errs.New(errs.CloudError, err)
	}
	if !res.Accepted {
		entry.WithField("message", res.Message).Info("completeTagAuth rejected")
	}
	return res, nil
}

// UploadUsage submits a serialized usage-history batch. The wire encoding of
// batch is the caller's concern (usage.Store owns it); this layer only
// enforces the one-in-flight rule and normalizes transport errors.
func (c *Client) UploadUsage(ctx context.Context, batch []byte) error {
	const endpoint = "uploadUsage"
	if err := acquire(&c.uploadBusy, endpoint); err != nil {
		return err
	}
	defer c.uploadBusy.Store(false)

	entry := log.WithField("request_id", uuid.New().String()).WithField("endpoint", endpoint).WithField("bytes", len(batch))
	entry.Debug("calling uploadUsage")

	if err := c.transport.UploadUsage(ctx, batch); err != nil {
		entry.WithError(err).Warn("uploadUsage failed")
		return errs.New(errs.CloudError, err)
	}
	return nil
}

func (c *Client) Personalize(ctx context.Context, tagUID string) (PersonalizeResult, error) {
	const endpoint = "personalize"
	if err := acquire(&c.personalizeBusy, endpoint); err != nil {
		return PersonalizeResult{}, err
	}
	defer c.personalizeBusy.Store(false)

	entry := log.WithField("request_id", uuid.New().String()).WithField("endpoint", endpoint).WithField("tag_uid", tagUID)
	entry.Debug("calling personalize")

	res, err := c.transport.Personalize(ctx, tagUID)
	if err != nil {
		entry.WithError(err).Warn("personalize failed")
		return PersonalizeResult{}, errs.New(errs.CloudError, err)
	}
	return res, nil
}

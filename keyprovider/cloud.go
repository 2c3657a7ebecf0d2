package keyprovider

import (
	"context"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
	"github.com/werkstattwaedi/machine-auth-sub000/firebaseclient"
	"github.com/werkstattwaedi/machine-auth-sub000/ntag424"
)

// CloudTransport is the narrow slice of firebaseclient.Client that Cloud
// needs, so this package depends on two methods rather than the whole
// RPC facade. *firebaseclient.Client satisfies it directly.
type CloudTransport interface {
	AuthenticateTag(ctx context.Context, tagUID string, keySlot byte, encryptedRndB []byte) (firebaseclient.AuthChallenge, error)
	CompleteTagAuth(ctx context.Context, authID string, encryptedPart3 []byte) (firebaseclient.CompleteAuthResult, error)
}

// Cloud authenticates by forwarding the challenge/response to a remote
// authorization service instead of holding the key locally. It retains the
// auth_id the cloud hands back, for later session identification by the
// caller (the Tag Verifier, spec §4.3).
type Cloud struct {
	transport CloudTransport
	tagUID    string
	slot      KeySlot

	authID string
}

var _ ntag424.KeyProvider = (*Cloud)(nil)

// NewCloud constructs a Cloud key provider for the given anti-collision
// tag UID and key slot. tagUID must already be known (it is read off the
// tag during anti-collision, before AuthenticateEV2First begins).
func NewCloud(transport CloudTransport, tagUID string, slot KeySlot) *Cloud {
	return &Cloud{transport: transport, tagUID: tagUID, slot: slot}
}

// KeySlot implements ntag424.KeyProvider.
func (c *Cloud) KeySlot() byte { return byte(c.slot) }

// AuthID returns the auth_id retained from a successful authentication, or
// "" if none has completed yet.
func (c *Cloud) AuthID() string { return c.authID }

// ComputePart2Response implements ntag424.KeyProvider by forwarding the
// tag's encrypted RndB to /api/authenticateTag and returning the cloud's
// computed challenge as the Part-2 payload.
func (c *Cloud) ComputePart2Response(ctx context.Context, encryptedRndB []byte) ([]byte, error) {
	res, err := c.transport.AuthenticateTag(ctx, c.tagUID, byte(c.slot), encryptedRndB)
	if err != nil {
		return nil, err
	}
	c.authID = res.AuthID
	challenge := make([]byte, 32)
	copy(challenge, res.CloudChallenge[:])
	return challenge, nil
}

// VerifyAndDeriveSession implements ntag424.KeyProvider by forwarding the
// tag's Part-3 response to /api/completeTagAuth. A cloud rejection surfaces
// as Unauthenticated, matching a Local provider's rotation-check failure.
func (c *Cloud) VerifyAndDeriveSession(ctx context.Context, encryptedPart3Response []byte) (sesEncKey, sesMacKey [16]byte, ti [4]byte, picc [6]byte, err error) {
	res, rpcErr := c.transport.CompleteTagAuth(ctx, c.authID, encryptedPart3Response)
	if rpcErr != nil {
		err = rpcErr
		return
	}
	if !res.Accepted {
		err = errs.Newf(errs.Unauthenticated, "keyprovider: cloud rejected completeTagAuth: %s", res.Message)
		return
	}
	sesEncKey, sesMacKey, ti, picc = res.SesEncKey, res.SesMacKey, res.TI, res.PICCCapabilities
	return
}

// CancelAuthentication implements ntag424.KeyProvider. The cloud side may
// hold state keyed by auth_id for an abandoned handshake; this terminal has
// no revocation RPC to call (out of scope), so it only forgets its own
// reference.
func (c *Cloud) CancelAuthentication(_ context.Context) {
	c.authID = ""
}

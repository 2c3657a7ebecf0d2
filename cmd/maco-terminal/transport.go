package main

import (
	"context"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
	"github.com/werkstattwaedi/machine-auth-sub000/firebaseclient"
)

// unconfiguredTransport is the firebaseclient.Transport placeholder for a
// terminal that hasn't been pointed at a cloud gateway: every call fails
// with CloudError. The gateway's wire format is out of scope (spec §1
// Non-goals); wiring a real firebaseclient.Transport means swapping this
// out for an implementation of the five RPCs over whatever network stack
// the deployment uses.
type unconfiguredTransport struct{}

func (unconfiguredTransport) TerminalCheckin(context.Context, string) (firebaseclient.CheckinResult, error) {
	return firebaseclient.CheckinResult{}, errs.Newf(errs.CloudError, "no cloud gateway transport configured")
}

func (unconfiguredTransport) AuthenticateTag(context.Context, string, byte, []byte) (firebaseclient.AuthChallenge, error) {
	return firebaseclient.AuthChallenge{}, errs.Newf(errs.CloudError, "no cloud gateway transport configured")
}

func (unconfiguredTransport) CompleteTagAuth(context.Context, string, []byte) (firebaseclient.CompleteAuthResult, error) {
	return firebaseclient.CompleteAuthResult{}, errs.Newf(errs.CloudError, "no cloud gateway transport configured")
}

func (unconfiguredTransport) UploadUsage(context.Context, []byte) error {
	return errs.Newf(errs.CloudError, "no cloud gateway transport configured")
}

func (unconfiguredTransport) Personalize(context.Context, string) (firebaseclient.PersonalizeResult, error) {
	return firebaseclient.PersonalizeResult{}, errs.Newf(errs.CloudError, "no cloud gateway transport configured")
}

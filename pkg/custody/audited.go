package custody

import (
	"context"
	"crypto"

	"github.com/remiblancher/certengine/internal/audit"
)

// Audited records every signature served by a backend as a REMOTE_SIGN
// event. A signature is withheld when its event cannot be written.
type Audited struct {
	Custody
	w audit.Writer
}

var _ Custody = (*Audited)(nil)

// NewAudited wraps c so that Sign is audited to w.
func NewAudited(c Custody, w audit.Writer) *Audited {
	return &Audited{Custody: c, w: w}
}

func (a *Audited) PublicKey(ctx context.Context, handle string) (crypto.PublicKey, error) {
	return a.Custody.PublicKey(ctx, handle)
}

func (a *Audited) Sign(ctx context.Context, handle string, scheme Scheme, message []byte) ([]byte, error) {
	sig, err := a.Custody.Sign(ctx, handle, scheme, message)
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if aerr := audit.LogRemoteSign(a.w, handle, string(scheme), err == nil, reason); aerr != nil && err == nil {
		return nil, aerr
	}
	return sig, err
}

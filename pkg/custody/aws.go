package custody

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	pkicrypto "github.com/remiblancher/certengine/internal/crypto"
)

// maxRawMessage is the largest message KMS accepts with MessageType RAW.
const maxRawMessage = 4096

// KMSAPI is the subset of the AWS KMS client used by AWS. *kms.Client
// satisfies it.
type KMSAPI interface {
	GetPublicKey(ctx context.Context, in *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, in *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// AWS signs with AWS KMS asymmetric keys. Handles are key ids, ARNs or
// alias names.
type AWS struct {
	client KMSAPI
}

var _ Custody = (*AWS)(nil)

// NewAWS wraps an existing KMS client.
func NewAWS(client KMSAPI) *AWS {
	return &AWS{client: client}
}

// NewAWSFromConfig loads the default AWS configuration (environment,
// shared config, instance role) for region. An empty region keeps the
// configured default.
func NewAWSFromConfig(ctx context.Context, region string) (*AWS, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewAWS(kms.NewFromConfig(cfg)), nil
}

// PublicKey fetches the DER public key of handle.
func (a *AWS) PublicKey(ctx context.Context, handle string) (crypto.PublicKey, error) {
	out, err := a.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(handle)})
	if err != nil {
		return nil, kmsError(handle, err)
	}
	if out.KeyUsage != "" && out.KeyUsage != types.KeyUsageTypeSignVerify {
		return nil, fmt.Errorf("%w: key %s has usage %s", ErrUnsupportedScheme, handle, out.KeyUsage)
	}
	pub, err := pkicrypto.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("kms public key for %s: %w", handle, err)
	}
	return pub, nil
}

// Sign signs message. Messages up to 4096 bytes are sent RAW; longer ones
// are hashed locally and sent as DIGEST, which EdDSA schemes do not allow.
func (a *AWS) Sign(ctx context.Context, handle string, scheme Scheme, message []byte) ([]byte, error) {
	plan, err := PlanForScheme(scheme)
	if err != nil {
		return nil, err
	}
	if scheme == SchemeEd448 {
		return nil, fmt.Errorf("%w: %s is not offered by AWS KMS", ErrUnsupportedScheme, scheme)
	}

	in := &kms.SignInput{
		KeyId:            aws.String(handle),
		SigningAlgorithm: types.SigningAlgorithmSpec(scheme),
		Message:          message,
		MessageType:      types.MessageTypeRaw,
	}
	if len(message) > maxRawMessage {
		if plan.Hash == 0 {
			return nil, fmt.Errorf("%w: %s message of %d bytes exceeds the RAW limit", ErrUnsupportedScheme, scheme, len(message))
		}
		in.Message = plan.Digest(message)
		in.MessageType = types.MessageTypeDigest
	}

	out, err := a.client.Sign(ctx, in)
	if err != nil {
		return nil, kmsError(handle, err)
	}
	return out.Signature, nil
}

// kmsError tags not-found keys with ErrUnknownKey and keeps the AWS error
// in the chain.
func kmsError(handle string, err error) error {
	var nf *types.NotFoundException
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %s: %w", ErrUnknownKey, handle, err)
	}
	var bad *types.UnsupportedOperationException
	var usage *types.InvalidKeyUsageException
	if errors.As(err, &bad) || errors.As(err, &usage) {
		return fmt.Errorf("%w: %w", ErrUnsupportedScheme, err)
	}
	return err
}

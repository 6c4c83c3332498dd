// utils/kms.go
package utils

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// ErrKeyUnrecoverable means a stored vault key could not be decrypted. Callers skip the
// unit of work; a fresh key must never be generated in its place.
var ErrKeyUnrecoverable = errors.New("vault key unrecoverable")

// KeyCustody envelope-encrypts raw signing keys.
type KeyCustody interface {
	Encrypt(ctx context.Context, raw []byte) (string, error)
	Decrypt(ctx context.Context, blob string) ([]byte, error)
}

type kmsAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSCustody encrypts with a single fixed AWS KMS key.
type KMSCustody struct {
	client kmsAPI
	keyID  string
}

func NewKMSCustody(ctx context.Context, accessKeyID, secretAccessKey, region, keyID string) (*KMSCustody, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, secretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load KMS config: %w", err)
	}
	return NewKMSCustodyWithClient(kms.NewFromConfig(cfg), keyID), nil
}

func NewKMSCustodyWithClient(client kmsAPI, keyID string) *KMSCustody {
	return &KMSCustody{client: client, keyID: keyID}
}

// Encrypt returns the base64 ciphertext blob for raw.
func (k *KMSCustody) Encrypt(ctx context.Context, raw []byte) (string, error) {
	out, err := k.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(k.keyID),
		Plaintext: raw,
	})
	if err != nil {
		return "", fmt.Errorf("kms encrypt: %w", err)
	}
	if len(out.CiphertextBlob) == 0 {
		return "", errors.New("kms encrypt: empty ciphertext")
	}
	return base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

// Decrypt returns the raw key bytes. Every failure is reported as ErrKeyUnrecoverable.
func (k *KMSCustody) Decrypt(ctx context.Context, blob string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: malformed blob", ErrKeyUnrecoverable)
	}
	out, err := k.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(k.keyID),
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnrecoverable, err)
	}
	if len(out.Plaintext) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrKeyUnrecoverable)
	}
	return out.Plaintext, nil
}

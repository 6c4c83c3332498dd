// services/vault.go
package services

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"quest-vault-service/utils"
)

// SealVaultKey generates a fresh vault keypair and returns the custody blob and public address.
func SealVaultKey(ctx context.Context, custody utils.KeyCustody) (blob string, address solana.PublicKey, err error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", solana.PublicKey{}, fmt.Errorf("generate vault key: %w", err)
	}
	blob, err = custody.Encrypt(ctx, key)
	if err != nil {
		return "", solana.PublicKey{}, fmt.Errorf("seal vault key: %w", err)
	}
	return blob, key.PublicKey(), nil
}

// OpenVaultKey decrypts a vault key. Any failure is utils.ErrKeyUnrecoverable; callers skip the quest.
func OpenVaultKey(ctx context.Context, custody utils.KeyCustody, blob string) (solana.PrivateKey, error) {
	raw, err := custody.Decrypt(ctx, blob)
	if err != nil {
		return nil, err
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("%w: decrypted key has %d bytes", utils.ErrKeyUnrecoverable, len(raw))
	}
	return solana.PrivateKey(raw), nil
}

package auth

import (
	"context"

	"github.com/habedi/docvault/vault"
)

// vaultStorer adapts a vault.Store to the TokenStorer interface.
type vaultStorer struct{ store *vault.Store }

// NewVaultStorer persists the token pair in the tokens slot of store.
func NewVaultStorer(store *vault.Store) TokenStorer {
	return &vaultStorer{store: store}
}

func (s *vaultStorer) LoadTokens(ctx context.Context) (*TokenPair, error) {
	var pair TokenPair
	found, err := s.store.GetJSON(ctx, vault.SlotTokens, &pair)
	if err != nil || !found {
		return nil, err
	}
	return &pair, nil
}

func (s *vaultStorer) SaveTokens(ctx context.Context, pair *TokenPair) error {
	return s.store.PutJSON(ctx, vault.SlotTokens, pair)
}

func (s *vaultStorer) DeleteTokens(ctx context.Context) error {
	return s.store.Delete(ctx, vault.SlotTokens)
}

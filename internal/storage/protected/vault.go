package protected

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault-client-go"
	"github.com/hashicorp/vault-client-go/schema"

	"oidcprovider/internal/config"
)

// Vault is a client to Hashicorp Vault secure storage, scoped to one KV v2 mount
type Vault struct {
	Client *vault.Client
	Mount  string
	Path   string
}

// NewVaultClient creates a Vault client, authenticating by token or AppRole
func NewVaultClient(ctx context.Context, conf *config.VaultConfig) (*Vault, error) {
	client, err := vault.New(
		vault.WithAddress(conf.Address),
		vault.WithRequestTimeout(conf.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating new vault client instance: %w", err)
	}
	v := &Vault{Client: client, Mount: conf.Mount, Path: conf.Path}

	switch {
	case conf.Token != "":
		if err := client.SetToken(conf.Token); err != nil {
			return nil, fmt.Errorf("error while setting token: %w", err)
		}
	case conf.RoleID != "":
		if err := v.AuthAppRole(ctx, conf.RoleID, conf.SecretID); err != nil {
			return nil, fmt.Errorf("error while logging in with approle: %w", err)
		}
	default:
		return nil, fmt.Errorf("vault token or approle credentials are required")
	}
	return v, nil
}

// AuthAppRole authenticates the service as a Vault AppRole client
func (v *Vault) AuthAppRole(ctx context.Context, roleID, secretID string) error {
	resp, err := v.Client.Auth.AppRoleLogin(
		ctx,
		schema.AppRoleLoginRequest{
			RoleId:   roleID,
			SecretId: secretID,
		})
	if err != nil {
		return err
	}
	return v.Client.SetToken(resp.Auth.ClientToken)
}

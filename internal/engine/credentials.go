package engine

import (
	"context"
	"fmt"

	"proptrader/internal/ledger"
	"proptrader/internal/secrets"
)

// primaryAccountID keys the credential row for the broker connection the
// engine itself runs on. Additional connections are stored by operators
// under their own account IDs.
const primaryAccountID = "acct_primary"

// syncCredentials persists the configured broker keys encrypted at rest
// and refreshes the informational account snapshot. Skipped entirely when
// no encryption key is configured: credentials then live only in config.
func (e *Engine) syncCredentials(ctx context.Context) error {
	if e.cfg.Encryption.Key == "" || e.cfg.DryRun {
		return nil
	}

	vault, err := secrets.NewVault(e.cfg.Encryption.Key)
	if err != nil {
		return fmt.Errorf("engine: open vault: %w", err)
	}

	encKey, err := vault.Encrypt(e.cfg.Broker.APIKey)
	if err != nil {
		return fmt.Errorf("engine: encrypt api key: %w", err)
	}
	encSecret, err := vault.Encrypt(e.cfg.Broker.SecretKey)
	if err != nil {
		return fmt.Errorf("engine: encrypt secret key: %w", err)
	}

	cred, err := e.store.Credential(primaryAccountID)
	if err != nil {
		cred = &ledger.BrokerCredential{
			AccountID:   primaryAccountID,
			BrokerType:  "alpaca",
			DisplayName: "Primary block account",
		}
	}
	cred.EncryptedAPIKey = encKey
	cred.EncryptedSecretKey = encSecret
	cred.BaseURL = e.cfg.Broker.BaseURL
	if err := e.store.SaveCredential(cred); err != nil {
		return err
	}

	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		e.log.Warn("account snapshot unavailable", "error", err)
		return nil
	}
	if err := e.store.TouchCredentialSync(primaryAccountID,
		acct.BuyingPower.String(), acct.Equity.String(), acct.Cash.String()); err != nil {
		return err
	}

	e.log.Info("broker credentials stored",
		"account", primaryAccountID, "api_key", secrets.Mask(e.cfg.Broker.APIKey))
	return nil
}

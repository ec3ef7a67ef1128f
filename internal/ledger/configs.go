package ledger

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ActiveRiskConfig loads the single active risk configuration.
func (s *Store) ActiveRiskConfig() (*RiskConfig, error) {
	var rc RiskConfig
	err := s.db.First(&rc, "is_active = ?", true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveRiskConfig
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load risk config: %w", err)
	}
	return &rc, nil
}

// SaveRiskConfig upserts a risk configuration. When it is marked active,
// every other configuration is deactivated so exactly one remains active.
func (s *Store) SaveRiskConfig(rc *RiskConfig) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if rc.IsActive {
			if err := tx.Model(&RiskConfig{}).
				Where("id <> ?", rc.ID).
				Update("is_active", false).Error; err != nil {
				return fmt.Errorf("ledger: deactivate risk configs: %w", err)
			}
		}
		if err := tx.Save(rc).Error; err != nil {
			return fmt.Errorf("ledger: save risk config: %w", err)
		}
		return nil
	})
}

// SetKillSwitch flips the kill switch on the active configuration.
func (s *Store) SetKillSwitch(active bool) error {
	rc, err := s.ActiveRiskConfig()
	if err != nil {
		return err
	}
	rc.KillSwitchActive = active
	if err := s.db.Save(rc).Error; err != nil {
		return fmt.Errorf("ledger: set kill switch: %w", err)
	}
	s.log.Warn("kill switch changed", "active", active)
	return nil
}

// ActiveStrategies returns strategy definitions enabled for trading.
func (s *Store) ActiveStrategies() ([]StrategyConfig, error) {
	var configs []StrategyConfig
	if err := s.db.Where("is_active = ?", true).Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("ledger: active strategies: %w", err)
	}
	return configs, nil
}

// StrategyByName loads a strategy definition by its display name.
func (s *Store) StrategyByName(name string) (*StrategyConfig, error) {
	var sc StrategyConfig
	err := s.db.First(&sc, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: strategy %s: %w", name, err)
	}
	return &sc, nil
}

// SaveStrategy upserts a strategy definition, assigning an ID when new.
func (s *Store) SaveStrategy(sc *StrategyConfig) error {
	if sc.StrategyID == "" {
		sc.StrategyID = NewStrategyID()
	}
	if err := s.db.Save(sc).Error; err != nil {
		return fmt.Errorf("ledger: save strategy: %w", err)
	}
	return nil
}

// ActiveAccounts returns prop-firm accounts still in play.
func (s *Store) ActiveAccounts() ([]PropFirmAccount, error) {
	var accounts []PropFirmAccount
	if err := s.db.Where("is_active = ?", true).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("ledger: active accounts: %w", err)
	}
	return accounts, nil
}

// SaveAccount upserts a prop-firm account.
func (s *Store) SaveAccount(a *PropFirmAccount) error {
	if err := s.db.Save(a).Error; err != nil {
		return fmt.Errorf("ledger: save account: %w", err)
	}
	return nil
}

// SaveCredential upserts a broker credential, assigning an ID when new.
func (s *Store) SaveCredential(c *BrokerCredential) error {
	if c.AccountID == "" {
		c.AccountID = NewAccountID()
	}
	if err := s.db.Save(c).Error; err != nil {
		return fmt.Errorf("ledger: save credential: %w", err)
	}
	return nil
}

// Credential loads a broker credential by account ID.
func (s *Store) Credential(accountID string) (*BrokerCredential, error) {
	var c BrokerCredential
	err := s.db.First(&c, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: credential %s: %w", accountID, err)
	}
	return &c, nil
}

// TouchCredentialSync updates the informational account snapshot fields.
func (s *Store) TouchCredentialSync(accountID string, buyingPower, equity, cash string) error {
	now := time.Now()
	err := s.db.Model(&BrokerCredential{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"buying_power":   buyingPower,
			"equity":         equity,
			"cash":           cash,
			"last_synced_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("ledger: touch credential %s: %w", accountID, err)
	}
	return nil
}

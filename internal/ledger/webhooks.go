package ledger

import (
	"fmt"

	"proptrader/pkg/types"
)

// CreateWebhookEvent records an ingress request. Every request produces a
// row, including rejected and malformed ones.
func (s *Store) CreateWebhookEvent(e *WebhookEvent) error {
	if e.WebhookID == "" {
		e.WebhookID = NewWebhookID()
	}
	if e.Status == "" {
		e.Status = WebhookReceived
	}
	if err := s.db.Create(e).Error; err != nil {
		return fmt.Errorf("ledger: create webhook event: %w", err)
	}
	return nil
}

// UpdateWebhookStatus advances an audit row's processing state.
func (s *Store) UpdateWebhookStatus(webhookID string, status WebhookStatus, errMsg string) error {
	updates := map[string]any{"status": status}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	err := s.db.Model(&WebhookEvent{}).
		Where("webhook_id = ?", webhookID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("ledger: update webhook %s: %w", webhookID, err)
	}
	return nil
}

// MarkWebhookValidated advances an audit row to validated and records the
// parsed signal fields on it.
func (s *Store) MarkWebhookValidated(webhookID string, sig types.Signal) error {
	err := s.db.Model(&WebhookEvent{}).
		Where("webhook_id = ?", webhookID).
		Updates(map[string]any{
			"status":   WebhookValidated,
			"ticker":   sig.Ticker,
			"action":   string(sig.Action),
			"quantity": sig.Quantity.String(),
			"strategy": sig.StrategyName,
		}).Error
	if err != nil {
		return fmt.Errorf("ledger: validate webhook %s: %w", webhookID, err)
	}
	return nil
}

// RecentWebhookEvents returns the newest audit rows for the API.
func (s *Store) RecentWebhookEvents(limit int) ([]WebhookEvent, error) {
	var events []WebhookEvent
	if err := s.db.Order("created_at desc").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("ledger: recent webhook events: %w", err)
	}
	return events, nil
}

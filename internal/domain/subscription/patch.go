package subscription

// Patch is a partial subscription update; only non-nil fields apply.
type Patch struct {
	Enabled        *bool
	Activated      *bool
	LimitUsage     *int64
	LimitExpire    *int64
	AutoDeleteDays *int
	Note           *string
	TelegramID     *string
	DiscordWebhook *string
	ServiceIDs     *[]uint
}

// Apply merges the set fields into the subscription. Service selection is
// handled by the caller because it touches the association table.
func (p *Patch) Apply(s *Subscription) {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.Activated != nil {
		s.Activated = *p.Activated
	}
	if p.LimitUsage != nil {
		s.LimitUsage = *p.LimitUsage
	}
	if p.LimitExpire != nil {
		s.LimitExpire = *p.LimitExpire
	}
	if p.AutoDeleteDays != nil {
		s.AutoDeleteDays = *p.AutoDeleteDays
	}
	if p.Note != nil {
		s.Note = *p.Note
	}
	if p.TelegramID != nil {
		s.TelegramID = p.TelegramID
	}
	if p.DiscordWebhook != nil {
		s.DiscordWebhookURL = p.DiscordWebhook
	}
}

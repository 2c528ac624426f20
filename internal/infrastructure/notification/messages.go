package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/shared/format"
)

const divider = "➖➖➖➖➖\n"

func trimAgent(agent string) string {
	if len(agent) > 128 {
		return agent[:128]
	}
	return agent
}

func joinUsernames(subs []*subscription.Subscription) string {
	names := make([]string, 0, len(subs))
	for _, s := range subs {
		names = append(names, s.UsernameOrEmpty())
	}
	return strings.Join(names, ", ")
}

func firstOwner(subs []*subscription.Subscription) *admin.Admin {
	if len(subs) == 0 {
		return nil
	}
	return subs[0].Owner
}

func (s *Service) Startup() {
	s.system("🚀 #CoreStarted")
}

func (s *Service) LockedTask(taskName string) {
	s.system("🔒 <b>#LockedTask</b>\n" + divider + "TaskName: " + taskName + "\n")
}

func (s *Service) SystemLog(text string) {
	s.system("📝 <b>#SystemLog</b>\n" + divider + text + "\n")
}

func (s *Service) UnavailableNode(n *node.Node) {
	s.system("⚠️ <b>#UnavailableNodeDetected</b>\n" + divider + "NodeRemark: " + n.Remark)
}

func (s *Service) SubscriptionsCreated(subs []*subscription.Subscription, by *admin.Admin, now time.Time) {
	if len(subs) == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✨ <b>#SubCreated</b>\nCreatedBy: #%s\n", by.UsernameOrEmpty())
	for _, sub := range subs {
		b.WriteString(divider)
		fmt.Fprintf(&b, "Username: %s\n", sub.UsernameOrEmpty())
		fmt.Fprintf(&b, "UsageLimit: %s\n", format.ByteConvert(sub.LimitUsage))
		fmt.Fprintf(&b, "ExpireIn: %s\n", format.TimeConvert(sub.LimitExpire, now))
	}
	s.send(b.String(), firstOwner(subs))
}

func (s *Service) SubscriptionsDeleted(subs []*subscription.Subscription, by *admin.Admin) {
	if len(subs) == 0 {
		return
	}
	s.send(fmt.Sprintf("🗑 <b>#SubsDeleted</b>\n%sUsernames: %s\nCount: %d\nDeletedBy: #%s\n",
		divider, joinUsernames(subs), len(subs), by.UsernameOrEmpty()), firstOwner(subs))
}

func (s *Service) SubscriptionUpdated(sub *subscription.Subscription, by *admin.Admin, changes []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "✏️ <b>#SubUpdated</b>\n%sUsername: %s\n", divider, sub.UsernameOrEmpty())
	if len(changes) > 0 {
		b.WriteString("Changes:\n")
		for _, change := range changes {
			b.WriteString("  • " + change + "\n")
		}
	}
	fmt.Fprintf(&b, "UpdatedBy: #%s\n", by.UsernameOrEmpty())
	s.send(b.String(), sub.Owner)
}

func (s *Service) SubscriptionsEnabled(subs []*subscription.Subscription, by *admin.Admin) {
	if len(subs) == 0 {
		return
	}
	s.send(fmt.Sprintf("✅ <b>#SubsEnabled</b>\n%sUsernames: %s\nCount: %d\nEnabledBy: #%s\n",
		divider, joinUsernames(subs), len(subs), by.UsernameOrEmpty()), firstOwner(subs))
}

func (s *Service) SubscriptionsDisabled(subs []*subscription.Subscription, by *admin.Admin) {
	if len(subs) == 0 {
		return
	}
	s.send(fmt.Sprintf("🚫 <b>#SubsDisabled</b>\n%sUsernames: %s\nCount: %d\nDisabledBy: #%s\n",
		divider, joinUsernames(subs), len(subs), by.UsernameOrEmpty()), firstOwner(subs))
}

func (s *Service) SubscriptionsReset(subs []*subscription.Subscription, by *admin.Admin) {
	if len(subs) == 0 {
		return
	}
	s.send(fmt.Sprintf("🔄 <b>#SubsUsageReset</b>\n%sUsernames: %s\nCount: %d\nResetBy: #%s\n",
		divider, joinUsernames(subs), len(subs), by.UsernameOrEmpty()), firstOwner(subs))
}

func (s *Service) SubscriptionsRevoked(subs []*subscription.Subscription, by *admin.Admin) {
	if len(subs) == 0 {
		return
	}
	s.send(fmt.Sprintf("🔑 <b>#SubsRevoked</b>\n%sUsernames: %s\nCount: %d\nRevokedBy: #%s\n",
		divider, joinUsernames(subs), len(subs), by.UsernameOrEmpty()), firstOwner(subs))
}

func (s *Service) SubscriptionReached(sub *subscription.Subscription, now time.Time) {
	text := fmt.Sprintf("📊 <b>#SubLimited</b>\n%sUsername: %s\n", divider, sub.UsernameOrEmpty())
	if sub.Expired(now) {
		text = fmt.Sprintf("⏰ <b>#SubExpired</b>\n%sUsername: %s\n", divider, sub.UsernameOrEmpty())
	}
	s.send(text, sub.Owner)
	s.sendToSubscription(text, sub)
}

func (s *Service) SubscriptionReconnected(sub *subscription.Subscription) {
	s.send(fmt.Sprintf("🔓 <b>#SubUnReached</b>\n%sUsername: %s\n", divider, sub.UsernameOrEmpty()), sub.Owner)
}

func (s *Service) AutoRenewalExecuted(sub *subscription.Subscription) {
	text := fmt.Sprintf("🔁 <b>#AutoRenewalExecuted</b>\n%sUsername: %s\n", divider, sub.UsernameOrEmpty())
	s.send(text, sub.Owner)
	s.sendToSubscription(text, sub)
}

func (s *Service) SubscriptionAutoDeleted(sub *subscription.Subscription) {
	reachedAt := "N/A"
	if sub.ReachedAt != nil {
		reachedAt = sub.ReachedAt.UTC().Format("2006-01-02 15:04:05")
	}
	text := fmt.Sprintf("🗑 <b>#SubAutoDeleted</b>\n%sUsername: %s\nAutoDeleteDays: %d\nReachedAt: %s\n",
		divider, sub.UsernameOrEmpty(), sub.AutoDeleteDays, reachedAt)
	s.send(text, sub.Owner)
	s.sendToSubscription(text, sub)
}

func (s *Service) SubscriptionExpireActivated(sub *subscription.Subscription) {
	s.send(fmt.Sprintf("⏳ <b>#SubExpireActivated</b>\n%sUsername: %s\n", divider, sub.UsernameOrEmpty()), sub.Owner)
}

func (s *Service) SubscriptionFirstRequested(sub *subscription.Subscription, clientAgent string) {
	s.send(fmt.Sprintf("🆕 <b>#SubFirstRequested</b>\n%sUsername: %s\nClientAgent: %s\n",
		divider, sub.UsernameOrEmpty(), trimAgent(clientAgent)), sub.Owner)
}

func (s *Service) AdminLogin(a *admin.Admin, clientAddress, clientAgent string) {
	s.send(fmt.Sprintf("🔐 <b>#AdminLogin</b>\n%sAdmin: #%s\nClientAddress: %s\nClientAgent: %s\n",
		divider, a.UsernameOrEmpty(), clientAddress, trimAgent(clientAgent)), a)
}

func (s *Service) AdminFailedLogin(username, clientAddress, clientAgent string) {
	s.send(fmt.Sprintf("⚠️ <b>#AdminFailedLogin</b>\n%sUsername: <code>%s</code>\nClientAddress: %s\nClientAgent: %s\n",
		divider, username, clientAddress, trimAgent(clientAgent)), nil)
}

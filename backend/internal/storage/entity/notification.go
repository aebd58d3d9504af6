// Notification types and delivery channel defaults.

package entity

// NotificationType represents a category of notification.
type NotificationType string

const (
	// NotifMemberJoined is sent to the owner and inviter when a share code is redeemed.
	NotifMemberJoined NotificationType = "member_joined"
	// NotifInviteDeclined is sent to the inviter when an invitation is declined.
	NotifInviteDeclined NotificationType = "invite_declined"
	// NotifInviteResent is sent to the inviter's own devices with the share link.
	NotifInviteResent NotificationType = "invite_resent"
	// NotifMemberRemoved is sent to a user removed from a list.
	NotifMemberRemoved NotificationType = "member_removed"
	// NotifItemAdded is sent to the other members when an item is added.
	NotifItemAdded NotificationType = "item_added"
	// NotifItemCompleted is sent to the other members when an item is checked off.
	NotifItemCompleted NotificationType = "item_completed"
)

// ChannelSet indicates which delivery channels are enabled for a notification type.
type ChannelSet struct {
	Mobile bool `json:"mobile" firestore:"mobile"`
	Web    bool `json:"web" firestore:"web"`
}

// defaultChannels maps each notification type to its default delivery channels.
var defaultChannels = map[NotificationType]ChannelSet{
	NotifMemberJoined:   {Mobile: true, Web: true},
	NotifInviteDeclined: {Mobile: true, Web: true},
	NotifInviteResent:   {Mobile: true},
	NotifMemberRemoved:  {Mobile: true, Web: true},
	NotifItemAdded:      {Mobile: true, Web: true},
	NotifItemCompleted:  {Mobile: true, Web: true},
}

// DefaultChannels returns the default channel set for a notification type.
func DefaultChannels(t NotificationType) ChannelSet {
	if cs, ok := defaultChannels[t]; ok {
		return cs
	}
	return ChannelSet{Mobile: true}
}

// AllNotificationTypes returns all defined notification types.
func AllNotificationTypes() []NotificationType {
	return []NotificationType{
		NotifMemberJoined,
		NotifInviteDeclined,
		NotifInviteResent,
		NotifMemberRemoved,
		NotifItemAdded,
		NotifItemCompleted,
	}
}

package discord

import "github.com/bwmarrin/discordgo"

// PermissionChecker decides who may run the recording and voice commands:
// guild administrators plus an explicit allow list of user IDs.
type PermissionChecker struct {
	admins map[string]struct{}
}

// NewPermissionChecker creates a PermissionChecker allowing adminUserIDs in
// addition to guild administrators.
func NewPermissionChecker(adminUserIDs []string) *PermissionChecker {
	admins := make(map[string]struct{}, len(adminUserIDs))
	for _, id := range adminUserIDs {
		admins[id] = struct{}{}
	}
	return &PermissionChecker{admins: admins}
}

// IsAdmin reports whether the interaction author may run privileged
// commands. Interactions outside a guild are always refused.
func (p *PermissionChecker) IsAdmin(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	if i.Member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	_, ok := p.admins[InteractionUserID(i)]
	return ok
}

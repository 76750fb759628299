package telegram

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/mymmrac/telego"
)

var denials = []string{
	"Access denied, mortal!",
	"You shall not pass!",
	"Nice try, but no.",
	"This is not for you, buddy.",
	"Keep dreaming!",
	"Nope, not happening.",
	"You're not on the list!",
	"Denied. Try again never.",
}

// AdminLister looks up group administrators.
type AdminLister interface {
	GetChatAdministrators(ctx context.Context, params *telego.GetChatAdministratorsParams) ([]telego.ChatMember, error)
}

// Authorizer decides who may change reminders.
type Authorizer struct {
	allowedUsers   []int64
	groupID        int64
	personalUserID int64
	admins         AdminLister
	pick           func(n int) int
}

// NewAuthorizer builds an authorizer. An empty allowed list admits every
// user; a zero group id and personal user id disable the group policy.
func NewAuthorizer(allowedUsers []int64, groupID, personalUserID int64, admins AdminLister) *Authorizer {
	return &Authorizer{
		allowedUsers:   allowedUsers,
		groupID:        groupID,
		personalUserID: personalUserID,
		admins:         admins,
		pick:           rand.IntN,
	}
}

// Restricted reports whether user is on the allowed list.
func (a *Authorizer) Restricted(user int64) bool {
	if len(a.allowedUsers) == 0 {
		return true
	}
	return slices.Contains(a.allowedUsers, user)
}

// GroupAdminsOrPersonal admits administrators of the configured group when
// the command comes from that group, and otherwise only the personal user.
func (a *Authorizer) GroupAdminsOrPersonal(ctx context.Context, chat, user int64) (bool, error) {
	if a.groupID == 0 && a.personalUserID == 0 {
		return true, nil
	}
	if chat != a.groupID {
		return user == a.personalUserID, nil
	}

	members, err := a.admins.GetChatAdministrators(ctx, &telego.GetChatAdministratorsParams{
		ChatID: telego.ChatID{ID: chat},
	})
	if err != nil {
		return false, fmt.Errorf("get chat administrators: %w", err)
	}
	for _, m := range members {
		if m.MemberUser().ID == user {
			return true, nil
		}
	}
	return false, nil
}

// Allowed applies both policies.
func (a *Authorizer) Allowed(ctx context.Context, chat, user int64) (bool, error) {
	if !a.Restricted(user) {
		return false, nil
	}
	return a.GroupAdminsOrPersonal(ctx, chat, user)
}

// Denial returns a random refusal line.
func (a *Authorizer) Denial() string {
	return denials[a.pick(len(denials))]
}

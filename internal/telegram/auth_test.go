package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	groupID    int64 = -100123
	personalID int64 = 77
	adminID    int64 = 5
)

func admins(ids ...int64) []telego.ChatMember {
	out := make([]telego.ChatMember, 0, len(ids))
	for _, id := range ids {
		out = append(out, &telego.ChatMemberAdministrator{Status: telego.MemberStatusAdministrator, User: telego.User{ID: id}})
	}
	return out
}

func TestAuthorizer_Restricted(t *testing.T) {
	open := NewAuthorizer(nil, 0, 0, nil)
	assert.True(t, open.Restricted(1))

	closed := NewAuthorizer([]int64{1, 2}, 0, 0, nil)
	assert.True(t, closed.Restricted(2))
	assert.False(t, closed.Restricted(3))
}

func TestAuthorizer_GroupAdminsOrPersonal(t *testing.T) {
	bot := &MockBot{}
	bot.On("GetChatAdministrators", mock.Anything, mock.MatchedBy(func(p *telego.GetChatAdministratorsParams) bool {
		return p.ChatID.ID == groupID
	})).Return(admins(adminID), nil)

	a := NewAuthorizer(nil, groupID, personalID, bot)
	ctx := context.Background()

	tests := []struct {
		name string
		chat int64
		user int64
		want bool
	}{
		{name: "admin in group", chat: groupID, user: adminID, want: true},
		{name: "member in group", chat: groupID, user: 9, want: false},
		{name: "personal user in group must be admin", chat: groupID, user: personalID, want: false},
		{name: "personal user elsewhere", chat: personalID, user: personalID, want: true},
		{name: "stranger elsewhere", chat: 555, user: 555, want: false},
		{name: "group admin elsewhere", chat: 555, user: adminID, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.GroupAdminsOrPersonal(ctx, tt.chat, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthorizer_NoGroupPolicyConfigured(t *testing.T) {
	a := NewAuthorizer(nil, 0, 0, nil)
	ok, err := a.GroupAdminsOrPersonal(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthorizer_AdminLookupFails(t *testing.T) {
	bot := &MockBot{}
	bot.On("GetChatAdministrators", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	a := NewAuthorizer(nil, groupID, personalID, bot)
	ok, err := a.Allowed(context.Background(), groupID, adminID)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestAuthorizer_AllowedChecksListFirst(t *testing.T) {
	bot := &MockBot{}
	a := NewAuthorizer([]int64{personalID}, groupID, personalID, bot)

	ok, err := a.Allowed(context.Background(), groupID, adminID)
	require.NoError(t, err)
	assert.False(t, ok)
	bot.AssertNotCalled(t, "GetChatAdministrators", mock.Anything, mock.Anything)
}

func TestAuthorizer_Denial(t *testing.T) {
	a := NewAuthorizer(nil, 0, 0, nil)
	for i := 0; i < 20; i++ {
		assert.Contains(t, denials, a.Denial())
	}
	a.pick = func(int) int { return 1 }
	assert.Equal(t, "You shall not pass!", a.Denial())
}

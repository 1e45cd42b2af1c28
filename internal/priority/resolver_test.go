package priority

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fankserver/discord-jukebox/internal/queue"
)

// fakeMembers maps "guild/user" to member info.
type fakeMembers map[string]MemberInfo

func (f fakeMembers) Member(guildID, userID string) (MemberInfo, error) {
	info, ok := f[guildID+"/"+userID]
	if !ok {
		return MemberInfo{}, errors.New("member not found")
	}
	return info, nil
}

func TestWeightClasses(t *testing.T) {
	members := fakeMembers{
		"g/admin":   {IsAdmin: true},
		"g/manager": {CanManageGuild: true},
		"g/mod":     {RoleNames: []string{"Moderator"}},
		"g/dj":      {RoleNames: []string{"DJ"}},
		"g/booster": {IsBooster: true},
		"g/pleb":    {},
	}
	r := NewResolver(members, nil, "owner-id")

	tests := []struct {
		user string
		want int
	}{
		{"owner-id", OwnerWeight},
		{"admin", AdminWeight},
		{"manager", ManageGuildWeight},
		{"mod", ModeratorWeight},
		{"dj", DJWeight},
		{"booster", BoosterWeight},
		{"pleb", DefaultWeight},
		{"stranger", DefaultWeight},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Weight("g", tt.user))
		})
	}
}

func TestWeightTakesMaximum(t *testing.T) {
	members := fakeMembers{
		"g/u": {IsAdmin: true, IsBooster: true, RoleNames: []string{"moderator"}},
	}
	r := NewResolver(members, nil, "")
	assert.Equal(t, AdminWeight, r.Weight("g", "u"))
}

func TestConfiguredRoleWeights(t *testing.T) {
	members := fakeMembers{
		"g/u": {RoleNames: []string{"Regulars"}},
	}
	r := NewResolver(members, map[string]int{"regulars": 33}, "")
	assert.Equal(t, 33, r.Weight("g", "u"))
}

func TestBypassQuota(t *testing.T) {
	members := fakeMembers{
		"g/admin":   {IsAdmin: true},
		"g/manager": {CanManageGuild: true},
		"g/mod":     {RoleNames: []string{"moderator"}},
	}
	r := NewResolver(members, nil, "owner-id")

	assert.True(t, r.BypassQuota("g", "owner-id"))
	assert.True(t, r.BypassQuota("g", "admin"))
	assert.True(t, r.BypassQuota("g", "manager"))
	assert.False(t, r.BypassQuota("g", "mod"))
}

func TestCanBumpOver(t *testing.T) {
	members := fakeMembers{
		"g/mod":   {RoleNames: []string{"moderator"}},
		"g/dj":    {RoleNames: []string{"dj"}},
		"g/admin": {IsAdmin: true},
		"g/pleb":  {},
	}
	r := NewResolver(members, nil, "")

	current := &queue.Track{Title: "x", RequestedBy: "dj"}

	assert.True(t, r.CanBumpOver("g", "mod", current), "higher weight bumps")
	assert.False(t, r.CanBumpOver("g", "pleb", current), "lower weight cannot bump")
	assert.True(t, r.CanBumpOver("g", "dj", current), "requester always may")
	assert.True(t, r.CanBumpOver("g", "admin", current))
	assert.True(t, r.CanBumpOver("g", "pleb", nil), "nothing playing")
}

func TestCanEditItem(t *testing.T) {
	members := fakeMembers{
		"g/mod":  {RoleNames: []string{"moderator"}},
		"g/pleb": {},
	}
	r := NewResolver(members, nil, "owner-id")

	item := &queue.Track{Title: "x", RequestedBy: "pleb", Priority: 0}
	high := &queue.Track{Title: "y", RequestedBy: "mod", Priority: ModeratorWeight}

	assert.True(t, r.CanEditItem("g", "pleb", item), "requester edits own item")
	assert.True(t, r.CanEditItem("g", "mod", item), "weight above item priority")
	assert.False(t, r.CanEditItem("g", "pleb", high), "cannot touch higher-priority item")
	assert.True(t, r.CanEditItem("g", "owner-id", high))
	assert.False(t, r.CanEditItem("g", "pleb", nil))
}

func TestFirstNonPriorityIndex(t *testing.T) {
	tests := []struct {
		name       string
		priorities []int
		want       int
	}{
		{"empty", nil, 0},
		{"all_normal", []int{0, 0}, 0},
		{"mixed", []int{80, 50, 0, 0}, 2},
		{"all_priority", []int{80, 50}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var items []queue.Track
			for _, p := range tt.priorities {
				items = append(items, queue.Track{Priority: p})
			}
			assert.Equal(t, tt.want, FirstNonPriorityIndex(items))
		})
	}
}

// Package priority maps guild members to queue weights and capability
// flags. The role table is static per process but configurable through
// PRIORITY_ROLE_WEIGHTS; the owner class numerically dominates everything.
package priority

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/discord-jukebox/internal/queue"
)

// Built-in class weights, overridable per role name via the config table.
const (
	OwnerWeight       = 1000
	AdminWeight       = 100
	ManageGuildWeight = 80
	ModeratorWeight   = 50
	DJWeight          = 40
	BoosterWeight     = 25
	DefaultWeight     = 0
)

// MemberInfo describes what the resolver needs to know about a member.
type MemberInfo struct {
	DisplayName    string
	AvatarURL      string
	RoleNames      []string
	IsAdmin        bool
	CanManageGuild bool
	IsBooster      bool
}

// MemberSource resolves guild membership. Implemented by the Discord
// gateway; tests supply fakes.
type MemberSource interface {
	Member(guildID, userID string) (MemberInfo, error)
}

// UserMeta is the resolved view of a member.
type UserMeta struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	Weight      int
	IsOwner     bool
	IsAdmin     bool
	BypassQuota bool
}

// Resolver computes weights and capability flags for (guild, user) pairs.
type Resolver struct {
	source      MemberSource
	roleWeights map[string]int
	ownerID     string
}

// NewResolver builds a resolver. roleWeights entries override or extend
// the built-in class table; keys are matched case-insensitively against
// role names.
func NewResolver(source MemberSource, roleWeights map[string]int, ownerID string) *Resolver {
	table := map[string]int{
		"administrator": AdminWeight,
		"moderator":     ModeratorWeight,
		"dj":            DJWeight,
		"booster":       BoosterWeight,
		"vip":           BoosterWeight,
	}
	for name, w := range roleWeights {
		table[strings.ToLower(name)] = w
	}
	return &Resolver{source: source, roleWeights: table, ownerID: ownerID}
}

// UserMeta resolves the full capability view for a member. Lookup
// failures degrade to the default class rather than erroring.
func (r *Resolver) UserMeta(guildID, userID string) UserMeta {
	meta := UserMeta{UserID: userID}

	if r.ownerID != "" && userID == r.ownerID {
		meta.IsOwner = true
		meta.Weight = OwnerWeight
		meta.BypassQuota = true
	}

	info, err := r.source.Member(guildID, userID)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"guild_id": guildID,
			"user_id":  userID,
		}).Debug("Member lookup failed, using default weight")
		return meta
	}

	meta.DisplayName = info.DisplayName
	meta.AvatarURL = info.AvatarURL
	meta.IsAdmin = info.IsAdmin

	w := meta.Weight
	if info.IsAdmin && AdminWeight > w {
		w = AdminWeight
	}
	if info.CanManageGuild && ManageGuildWeight > w {
		w = ManageGuildWeight
	}
	if info.IsBooster && BoosterWeight > w {
		w = BoosterWeight
	}
	for _, name := range info.RoleNames {
		if rw, ok := r.roleWeights[strings.ToLower(name)]; ok && rw > w {
			w = rw
		}
	}
	meta.Weight = w
	meta.BypassQuota = meta.BypassQuota || info.IsAdmin || info.CanManageGuild
	return meta
}

// Weight returns the queue weight for a member.
func (r *Resolver) Weight(guildID, userID string) int {
	return r.UserMeta(guildID, userID).Weight
}

// BypassQuota reports whether the member is exempt from the per-user cap.
func (r *Resolver) BypassQuota(guildID, userID string) bool {
	return r.UserMeta(guildID, userID).BypassQuota
}

// CanBumpOver reports whether the member may preempt the currently
// playing track. The track's own requester is always allowed.
func (r *Resolver) CanBumpOver(guildID, userID string, current *queue.Track) bool {
	if current == nil {
		return true
	}
	if current.RequestedBy == userID {
		return true
	}
	meta := r.UserMeta(guildID, userID)
	if meta.IsOwner || meta.IsAdmin {
		return true
	}
	ownerWeight := r.Weight(guildID, current.RequestedBy)
	return meta.Weight > ownerWeight
}

// CanEditItem reports whether the member may remove or move the track:
// its requester, an admin, or anyone whose weight exceeds the track's
// enqueue priority.
func (r *Resolver) CanEditItem(guildID, userID string, track *queue.Track) bool {
	if track == nil {
		return false
	}
	if track.RequestedBy == userID {
		return true
	}
	meta := r.UserMeta(guildID, userID)
	if meta.IsOwner || meta.IsAdmin {
		return true
	}
	return meta.Weight > track.Priority
}

// FirstNonPriorityIndex returns the index of the first queued item with
// priority 0 — the boundary between the priority band and the normal
// band. Returns len(items) when every item carries priority.
func FirstNonPriorityIndex(items []queue.Track) int {
	for i := range items {
		if items[i].Priority == 0 {
			return i
		}
	}
	return len(items)
}

// Package voice wraps the Discord gateway: one process-wide session,
// one voice connection per guild, and the transcode loop that feeds
// resolved audio sources into the voice channel.
package voice

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/fankserver/discord-jukebox/internal/errcode"
	"github.com/fankserver/discord-jukebox/internal/priority"
)

// Gateway manages the Discord session shared by all guilds.
type Gateway struct {
	discord *discordgo.Session

	transcoderPath string
}

// NewGateway creates the gateway for the given bot token.
func NewGateway(token, transcoderPath string) (*Gateway, error) {
	discord, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	gw := &Gateway{discord: discord, transcoderPath: transcoderPath}

	discord.AddHandler(gw.ready)
	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers

	return gw, nil
}

// Connect opens the gateway connection.
func (g *Gateway) Connect() error {
	return g.discord.Open()
}

// Disconnect closes the gateway connection.
func (g *Gateway) Disconnect() error {
	return g.discord.Close()
}

// Ready reports whether the gateway handshake has completed.
func (g *Gateway) Ready() bool {
	return g.discord.State != nil && g.discord.State.Ready.Version != 0
}

func (g *Gateway) ready(s *discordgo.Session, event *discordgo.Ready) {
	logrus.WithField("username", s.State.User.Username).Info("Gateway ready")
}

// UserVoiceChannel returns the voice channel the user currently occupies.
func (g *Gateway) UserVoiceChannel(guildID, userID string) (string, error) {
	guild, err := g.discord.State.Guild(guildID)
	if err != nil || guild == nil {
		return "", errcode.Wrap(errcode.GuildNotFound, fmt.Errorf("guild %s: %w", guildID, err))
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, nil
		}
	}
	return "", errcode.Newf(errcode.UserNotInVoice, "user %s is not in a voice channel", userID)
}

// Member resolves the role and permission view the priority resolver
// needs.
func (g *Gateway) Member(guildID, userID string) (priority.MemberInfo, error) {
	guild, err := g.discord.State.Guild(guildID)
	if err != nil || guild == nil {
		return priority.MemberInfo{}, fmt.Errorf("guild %s not in state: %w", guildID, err)
	}

	member, err := g.discord.State.Member(guildID, userID)
	if err != nil {
		member, err = g.discord.GuildMember(guildID, userID)
		if err != nil {
			return priority.MemberInfo{}, fmt.Errorf("member %s/%s: %w", guildID, userID, err)
		}
	}

	info := priority.MemberInfo{
		DisplayName: member.User.Username,
		IsBooster:   member.PremiumSince != nil,
	}
	if member.Nick != "" {
		info.DisplayName = member.Nick
	}
	if member.User.Avatar != "" {
		info.AvatarURL = member.User.AvatarURL("64")
	}
	if guild.OwnerID == userID {
		info.IsAdmin = true
	}

	roleByID := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roleByID[role.ID] = role
	}
	for _, roleID := range member.Roles {
		role, ok := roleByID[roleID]
		if !ok {
			continue
		}
		info.RoleNames = append(info.RoleNames, role.Name)
		if role.Permissions&discordgo.PermissionAdministrator != 0 {
			info.IsAdmin = true
		}
		if role.Permissions&discordgo.PermissionManageServer != 0 {
			info.CanManageGuild = true
		}
	}
	return info, nil
}

// OpenSession joins the voice channel and returns the per-guild session.
func (g *Gateway) OpenSession(guildID, channelID string) (*Session, error) {
	vc, err := g.discord.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, errcode.Wrap(errcode.VoiceConnectFailed, fmt.Errorf("joining %s/%s: %w", guildID, channelID, err))
	}
	logrus.WithFields(logrus.Fields{
		"guild_id":   guildID,
		"channel_id": channelID,
	}).Info("Joined voice channel")

	return newSession(g, guildID, channelID, vc), nil
}

// Debug returns gateway diagnostics for the voice debug endpoint.
func (g *Gateway) Debug() map[string]interface{} {
	return map[string]interface{}{
		"ready":  g.Ready(),
		"guilds": len(g.discord.State.Guilds),
	}
}

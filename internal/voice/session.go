package voice

import (
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/fankserver/discord-jukebox/internal/errcode"
	"github.com/fankserver/discord-jukebox/internal/extractor"
)

// Session is the per-guild voice connection. All methods are safe for
// concurrent use; playback itself runs on a dedicated goroutine owned
// by the streamer.
type Session struct {
	gateway   *Gateway
	guildID   string
	channelID string

	mu       sync.Mutex
	conn     *discordgo.VoiceConnection
	streamer *streamer
}

func newSession(gw *Gateway, guildID, channelID string, conn *discordgo.VoiceConnection) *Session {
	return &Session{
		gateway:   gw,
		guildID:   guildID,
		channelID: channelID,
		conn:      conn,
	}
}

// EnsureConnected makes sure the session sits on channelID. It returns
// true when the session was already there; otherwise it moves.
func (s *Session) EnsureConnected(channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil && s.channelID == channelID {
		return true, nil
	}

	vc, err := s.gateway.discord.ChannelVoiceJoin(s.guildID, channelID, false, true)
	if err != nil {
		return false, errcode.Wrap(errcode.VoiceConnectFailed, err)
	}
	s.conn = vc
	s.channelID = channelID
	logrus.WithFields(logrus.Fields{
		"guild_id":   s.guildID,
		"channel_id": channelID,
	}).Info("Moved voice channel")
	return false, nil
}

// IsConnected reports whether a voice connection is held.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// CurrentChannel returns the channel the session sits on, or "".
func (s *Session) CurrentChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.channelID
}

// Play starts playback of the resolved source. Non-blocking; onFinish
// fires exactly once when the source ends or fails. Any active stream
// is stopped first.
func (s *Session) Play(handle *extractor.SourceHandle, audioFilter string, onFinish func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return errcode.New(errcode.NoVoice, "session is not connected")
	}
	if s.streamer != nil {
		s.streamer.stop()
	}

	st := newStreamer(s.gateway.transcoderPath, s.guildID, handle, audioFilter, s.conn, onFinish)
	s.streamer = st
	st.start()
	return nil
}

// Stop halts playback, leaving the session connected but idle.
func (s *Session) Stop() {
	s.mu.Lock()
	st := s.streamer
	s.mu.Unlock()

	if st != nil {
		st.stop()
	}
}

// Pause suspends the stream. Returns false when nothing is playing.
func (s *Session) Pause() bool {
	s.mu.Lock()
	st := s.streamer
	s.mu.Unlock()
	return st != nil && st.pause()
}

// Resume continues a paused stream.
func (s *Session) Resume() bool {
	s.mu.Lock()
	st := s.streamer
	s.mu.Unlock()
	return st != nil && st.resume()
}

// IsPlaying reports whether audio is actively streaming (not paused).
func (s *Session) IsPlaying() bool {
	s.mu.Lock()
	st := s.streamer
	s.mu.Unlock()
	return st != nil && st.active() && !st.isPaused()
}

// IsPaused reports whether a stream is loaded but paused.
func (s *Session) IsPaused() bool {
	s.mu.Lock()
	st := s.streamer
	s.mu.Unlock()
	return st != nil && st.active() && st.isPaused()
}

// Disconnect stops playback and drops the voice connection.
func (s *Session) Disconnect() {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		if err := s.conn.Disconnect(); err != nil {
			logrus.WithError(err).WithField("guild_id", s.guildID).Debug("Error disconnecting from voice channel")
		}
		s.conn = nil
		logrus.WithField("guild_id", s.guildID).Info("Left voice channel")
	}
}

package voice

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"layeh.com/gopus"

	"github.com/fankserver/discord-jukebox/internal/extractor"
)

// Discord voice expects 20 ms Opus frames at 48 kHz stereo.
const (
	sampleRate      = 48000
	channels        = 2
	frameSamples    = 960                         // per channel per frame
	pcmFrameBytes   = frameSamples * channels * 2 // s16le
	samplesPerFrame = frameSamples * channels
	opusBitrate     = 128000
	sendTimeout     = 100 * time.Millisecond
	readyTimeout    = 10 * time.Second
)

// streamer transcodes one source handle and pushes Opus frames to the
// voice connection until EOF, failure or stop.
type streamer struct {
	transcoder string
	guildID    string
	handle     *extractor.SourceHandle
	filter     string
	conn       *discordgo.VoiceConnection

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	paused bool
	ended  bool

	finishOnce sync.Once
	onFinish   func(error)
}

func newStreamer(transcoder, guildID string, handle *extractor.SourceHandle, filter string, conn *discordgo.VoiceConnection, onFinish func(error)) *streamer {
	ctx, cancel := context.WithCancel(context.Background())
	return &streamer{
		transcoder: transcoder,
		guildID:    guildID,
		handle:     handle,
		filter:     filter,
		conn:       conn,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		onFinish:   onFinish,
	}
}

// transcoderArgs builds the ffmpeg invocation for the handle: remote
// sources are fetched by ffmpeg itself, piped sources arrive on stdin.
func transcoderArgs(handle *extractor.SourceHandle, filter string) []string {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}

	if handle.Piped() {
		args = args[1:] // stdin carries the stream
		args = append(args, "-i", "pipe:0")
	} else {
		if len(handle.Headers) > 0 {
			headers := ""
			for k, v := range handle.Headers {
				headers += fmt.Sprintf("%s: %s\r\n", k, v)
			}
			args = append(args, "-headers", headers)
		}
		// The reconnect options only exist for HTTP inputs; local
		// files (the intro asset) reject them.
		if strings.HasPrefix(handle.URL, "http://") || strings.HasPrefix(handle.URL, "https://") {
			args = append(args,
				"-reconnect", "1",
				"-reconnect_streamed", "1",
				"-reconnect_delay_max", "5",
			)
		}
		args = append(args, "-i", handle.URL)
	}

	args = append(args, "-vn", "-ac", "2", "-ar", "48000")
	if filter != "" {
		args = append(args, "-af", filter)
	}
	return append(args, "-f", "s16le", "pipe:1")
}

func (st *streamer) start() {
	go st.run()
}

func (st *streamer) run() {
	defer close(st.done)
	defer st.handle.Close()

	log := logrus.WithField("guild_id", st.guildID)

	cmd := exec.CommandContext(st.ctx, st.transcoder, transcoderArgs(st.handle, st.filter)...)
	if st.handle.Piped() {
		cmd.Stdin = st.handle.Reader
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		st.finish(fmt.Errorf("transcoder stdout: %w", err))
		return
	}
	if err := cmd.Start(); err != nil {
		st.finish(fmt.Errorf("starting transcoder: %w", err))
		return
	}
	defer func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}()

	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		st.finish(fmt.Errorf("creating opus encoder: %w", err))
		return
	}
	encoder.SetBitrate(opusBitrate)

	if err := st.waitReady(); err != nil {
		st.finish(err)
		return
	}

	if err := st.conn.Speaking(true); err != nil {
		log.WithError(err).Warn("Failed to set speaking state")
	}
	defer func() {
		if err := st.conn.Speaking(false); err != nil {
			log.WithError(err).Debug("Failed to clear speaking state")
		}
	}()

	log.Debug("Audio stream started")
	st.finish(st.pump(bufio.NewReaderSize(stdout, 64*1024), encoder))
}

// pump reads PCM frames, encodes and paces them at 20 ms intervals.
func (st *streamer) pump(reader io.Reader, encoder *gopus.Encoder) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	pcm := make([]byte, pcmFrameBytes)
	samples := make([]int16, samplesPerFrame)

	for {
		select {
		case <-st.ctx.Done():
			return nil
		default:
		}

		if st.isPaused() {
			select {
			case <-time.After(100 * time.Millisecond):
			case <-st.ctx.Done():
				return nil
			}
			continue
		}

		tail := false
		n, err := io.ReadFull(reader, pcm)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if err == io.ErrUnexpectedEOF && n > 0 {
				// Pad the tail frame with silence.
				for i := n; i < pcmFrameBytes; i++ {
					pcm[i] = 0
				}
				tail = true
			} else {
				return fmt.Errorf("reading pcm: %w", err)
			}
		}

		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		}

		frame, err := encoder.Encode(samples, frameSamples, pcmFrameBytes)
		if err != nil {
			return fmt.Errorf("encoding opus: %w", err)
		}

		select {
		case <-ticker.C:
		case <-st.ctx.Done():
			return nil
		}

		select {
		case st.conn.OpusSend <- frame:
		case <-time.After(sendTimeout):
			logrus.WithField("guild_id", st.guildID).Warn("Opus send timeout, dropping frame")
		case <-st.ctx.Done():
			return nil
		}

		if tail {
			return nil
		}
	}
}

func (st *streamer) waitReady() error {
	deadline := time.Now().Add(readyTimeout)
	for !st.conn.Ready || st.conn.OpusSend == nil {
		if time.Now().After(deadline) {
			return fmt.Errorf("voice connection not ready after %s", readyTimeout)
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-st.ctx.Done():
			return nil
		}
	}
	return nil
}

func (st *streamer) finish(err error) {
	st.mu.Lock()
	st.ended = true
	st.mu.Unlock()

	st.finishOnce.Do(func() {
		if st.onFinish != nil {
			st.onFinish(err)
		}
	})
}

func (st *streamer) stop() {
	st.cancel()
	select {
	case <-st.done:
	case <-time.After(5 * time.Second):
		logrus.WithField("guild_id", st.guildID).Warn("Audio stream stop timeout")
	}
}

func (st *streamer) pause() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.ended || st.paused {
		return false
	}
	st.paused = true
	return true
}

func (st *streamer) resume() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.ended || !st.paused {
		return false
	}
	st.paused = false
	return true
}

func (st *streamer) isPaused() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.paused
}

func (st *streamer) active() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return !st.ended
}

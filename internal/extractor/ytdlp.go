package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/discord-jukebox/internal/errcode"
	"github.com/fankserver/discord-jukebox/internal/queue"
)

// ytdlpBinary is the probe/download helper shared by all providers.
const ytdlpBinary = "yt-dlp"

// runYtdlp executes yt-dlp and returns its stdout. Overridable in tests.
var runYtdlp = func(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ytdlpBinary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp %v: %w (%s)", args, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// ytdlpInfo is the subset of yt-dlp's JSON dump we consume.
type ytdlpInfo struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Uploader    string            `json:"uploader"`
	Channel     string            `json:"channel"`
	Thumbnail   string            `json:"thumbnail"`
	Duration    json.Number       `json:"duration"`
	URL         string            `json:"url"`
	WebpageURL  string            `json:"webpage_url"`
	HTTPHeaders map[string]string `json:"http_headers"`
	Entries     []ytdlpInfo       `json:"entries"`
}

func (i *ytdlpInfo) durationSeconds() int {
	if i.Duration == "" {
		return 0
	}
	if f, err := i.Duration.Float64(); err == nil {
		return int(f)
	}
	return 0
}

func (i *ytdlpInfo) artist() string {
	if i.Uploader != "" {
		return i.Uploader
	}
	return i.Channel
}

func commonArgs(opts Options) []string {
	args := []string{"--no-warnings", "--no-playlist", "-f", "bestaudio/best"}
	if opts.CookiesFile != "" {
		args = append(args, "--cookies", opts.CookiesFile)
	}
	if opts.RateLimit > 0 {
		args = append(args, "--limit-rate", strconv.Itoa(opts.RateLimit))
	}
	return args
}

// probe dumps the media JSON for a single URL.
func probe(ctx context.Context, rawURL string, opts Options) (*ytdlpInfo, error) {
	args := append(commonArgs(opts), "-j", rawURL)
	out, err := runYtdlp(ctx, args...)
	if err != nil {
		return nil, errcode.Wrap(errcode.ExtractionFailed, err)
	}
	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, errcode.Wrap(errcode.ExtractionFailed, fmt.Errorf("parsing yt-dlp output: %w", err))
	}
	return &info, nil
}

// directStream resolves a fetchable media URL + headers for rawURL.
func directStream(ctx context.Context, rawURL string, opts Options) (*SourceHandle, string, error) {
	info, err := probe(ctx, rawURL, opts)
	if err != nil {
		return nil, "", err
	}
	if info.URL == "" {
		return nil, "", errcode.New(errcode.ExtractionFailed, "no media url in probe result")
	}
	return &SourceHandle{URL: info.URL, Headers: info.HTTPHeaders}, info.Title, nil
}

// pipeStream spawns yt-dlp writing the audio stream to stdout and hands
// the pipe over. The caller owns the handle and must Close it.
func pipeStream(ctx context.Context, rawURL string, opts Options) (*SourceHandle, string, error) {
	// Resolve the title first; the streaming process itself is silent.
	title := rawURL
	if info, err := probe(ctx, rawURL, opts); err == nil && info.Title != "" {
		title = info.Title
	}

	args := append(commonArgs(opts), "-o", "-", rawURL)
	cmd := exec.CommandContext(ctx, ytdlpBinary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, "", errcode.Wrap(errcode.ExtractionFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, "", errcode.Wrap(errcode.ExtractionFailed, err)
	}

	logrus.WithFields(logrus.Fields{
		"url": rawURL,
		"pid": cmd.Process.Pid,
	}).Debug("Started piped stream process")

	return &SourceHandle{Reader: stdout, cmd: cmd}, title, nil
}

// searchTracks runs a provider search prefix (e.g. "ytsearch") and
// normalizes the flat results.
func searchTracks(ctx context.Context, prefix, query string, limit int, provider queue.Provider, opts Options) ([]queue.Track, error) {
	target := fmt.Sprintf("%s%d:%s", prefix, limit, query)
	args := append(commonArgs(opts), "-J", "--flat-playlist", target)
	out, err := runYtdlp(ctx, args...)
	if err != nil {
		return nil, errcode.Wrap(errcode.ExtractionFailed, err)
	}
	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, errcode.Wrap(errcode.ExtractionFailed, fmt.Errorf("parsing search output: %w", err))
	}
	return entriesToTracks(info.Entries, provider, limit), nil
}

// expandBundle flattens a playlist URL into up to limit tracks.
func expandBundle(ctx context.Context, rawURL string, limit int, provider queue.Provider, opts Options) ([]queue.Track, error) {
	args := []string{"--no-warnings", "-J", "--flat-playlist", rawURL}
	if opts.CookiesFile != "" {
		args = append(args, "--cookies", opts.CookiesFile)
	}
	out, err := runYtdlp(ctx, args...)
	if err != nil {
		return nil, errcode.Wrap(errcode.ExtractionFailed, err)
	}
	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, errcode.Wrap(errcode.ExtractionFailed, fmt.Errorf("parsing playlist output: %w", err))
	}
	if len(info.Entries) == 0 {
		return nil, errcode.New(errcode.ExtractionFailed, "empty bundle")
	}
	return entriesToTracks(info.Entries, provider, limit), nil
}

func entriesToTracks(entries []ytdlpInfo, provider queue.Provider, limit int) []queue.Track {
	tracks := make([]queue.Track, 0, limit)
	for _, e := range entries {
		if len(tracks) == limit {
			break
		}
		url := e.WebpageURL
		if url == "" {
			url = e.URL
		}
		if url == "" && e.Title == "" {
			continue
		}
		tracks = append(tracks, queue.Track{
			Title:     e.Title,
			URL:       url,
			Artist:    e.artist(),
			Thumbnail: e.Thumbnail,
			DurationS: e.durationSeconds(),
			Provider:  provider,
		})
	}
	return tracks
}

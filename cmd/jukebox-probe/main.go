// jukebox-probe exercises the extractor pipeline from the command line:
// it detects the provider for a URL or query, normalizes it into a
// track and optionally resolves the playable source. Useful for
// checking yt-dlp and provider behavior without running the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/discord-jukebox/internal/extractor"
)

func main() {
	transcoder := flag.String("transcoder", "ffmpeg", "path to the ffmpeg binary")
	cookies := flag.String("cookies", "", "optional cookies file for provider sessions")
	resolve := flag.Bool("resolve", false, "also resolve the playable source (runs yt-dlp)")
	expand := flag.Bool("expand", false, "expand a bundle URL into its tracks")
	timeout := flag.Duration("timeout", 60*time.Second, "extraction timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <url-or-query>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	input := flag.Arg(0)

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	pipeline := extractor.NewPipeline(extractor.Options{
		TranscoderPath: *transcoder,
		CookiesFile:    *cookies,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if ex, ok := pipeline.Detect(input); ok {
		fmt.Printf("provider:  %s\n", ex.Provider())
		fmt.Printf("bundle:    %t\n", pipeline.IsBundle(input))
	} else {
		fmt.Println("provider:  (none, treated as search query)")
	}

	if *expand {
		tracks, err := pipeline.ExpandBundle(ctx, input)
		if err != nil {
			logrus.WithError(err).Fatal("Bundle expansion failed")
		}
		for i, track := range tracks {
			fmt.Printf("%2d. %s  (%s)\n", i+1, track.Title, track.URL)
		}
		return
	}

	track, err := pipeline.Normalize(ctx, input)
	if err != nil {
		logrus.WithError(err).Fatal("Normalization failed")
	}
	fmt.Printf("title:     %s\n", track.Title)
	fmt.Printf("url:       %s\n", track.URL)
	if track.Artist != "" {
		fmt.Printf("artist:    %s\n", track.Artist)
	}
	if track.DurationS > 0 {
		fmt.Printf("duration:  %ds\n", track.DurationS)
	}

	if !*resolve {
		return
	}

	handle, title, err := pipeline.Resolve(ctx, &track)
	if err != nil {
		logrus.WithError(err).Fatal("Source resolution failed")
	}
	defer handle.Close()

	if title != "" {
		fmt.Printf("resolved:  %s\n", title)
	}
	if handle.Piped() {
		fmt.Println("source:    piped child process")
	} else {
		fmt.Printf("source:    %s\n", handle.URL)
		if len(handle.Headers) > 0 {
			fmt.Printf("headers:   %d\n", len(handle.Headers))
		}
	}
}

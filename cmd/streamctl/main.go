// Command streamctl is a minimal CLI front end over the streaming audio
// engine core: it queues the URLs given on the command line with
// PlaylistCoordinator and plays them back to back, logging high-level
// events until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/audiopipe/streamctl/internal/config"
	"github.com/audiopipe/streamctl/internal/errs"
	"github.com/audiopipe/streamctl/internal/playlist"
	"github.com/audiopipe/streamctl/internal/resumecache"
)

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	debugFlag   = flag.Bool("debug", false, "Enable debug logging")
	volumeFlag  = flag.Float64("volume", config.DefaultVolume, "Initial volume (0.0-1.0)")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - %s\n\n", config.AppName, config.AppVersion, config.AppDescription)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <url> [url...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()

		configPath, err := config.GetConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Fprintf(os.Stderr, "\nConfig file: %s\n", configPath)
			} else {
				fmt.Fprintf(os.Stderr, "\nConfig file will be created on first use.\n")
			}
		}
	}
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(0)
	}

	setupLogging(*debugFlag)

	urls := flag.Args()
	if len(urls) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	defaults, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("using built-in defaults, failed to load config file")
	}

	coordinator := playlist.New(defaults.StreamOptions(""), &cliListener{})
	coordinator.SetVolume(*volumeFlag)

	for _, raw := range urls {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		resolved, err := playlist.ResolvePlaylistURL(ctx, raw)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("url", raw).Msg("failed to resolve playlist URL, skipping")
			continue
		}
		for _, u := range resolved {
			coordinator.AddSong(u, true)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("received shutdown signal, stopping")
	coordinator.Stop()
}

func setupLogging(debug bool) {
	if !debug {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return
	}

	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	cacheDir, err := resumecache.GetCacheDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not get cache dir: %v\n", err)
		cacheDir = os.TempDir()
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log dir: %v\n", err)
	}
	logPath := filepath.Join(cacheDir, "debug.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log file: %v\n", err)
		logFile = os.Stderr
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: "15:04:05"})
	fmt.Printf("Debug log: %s\n", logPath)
	log.Info().Msgf("Starting %s v%s (debug mode)", config.AppName, config.AppVersion)
}

// cliListener logs every PlaylistCoordinator event (§4.7) at Info level.
type cliListener struct{}

func (cliListener) NewSongPlaying(url string) {
	log.Info().Str("url", url).Msg("now playing")
}

func (cliListener) NoSongsLeft() {
	log.Info().Msg("queue empty")
}

func (cliListener) RunningOutOfSongs() {
	log.Warn().Msg("running low on queued songs")
}

func (cliListener) CreatedNewStream(url string) {
	log.Debug().Str("url", url).Msg("stream created")
}

func (cliListener) StreamError(err *errs.Error) {
	log.Error().Err(err).Msg("stream failed")
}

func (cliListener) AttemptingNewSong(attempt, maxAttempts int) {
	log.Warn().Int("attempt", attempt).Int("max", maxAttempts).Msg("retrying stream")
}

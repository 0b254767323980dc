package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/voxlead/voxlead/internal/app"
	"github.com/voxlead/voxlead/internal/audio"
	"github.com/voxlead/voxlead/internal/config"
	"github.com/voxlead/voxlead/internal/httpapi"
	"github.com/voxlead/voxlead/internal/observability"
	"github.com/voxlead/voxlead/internal/realtime"
	"github.com/voxlead/voxlead/internal/scrape"
	vsignal "github.com/voxlead/voxlead/internal/signal"
)

func main() {
	localSession := flag.Bool("local-session", false, "run a microphone voice session on this machine")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var broker httpapi.SessionBroker
	if cfg.OpenAIAPIKey != "" {
		broker = httpapi.NewUpstreamBroker(cfg.SessionsURL, cfg.OpenAIAPIKey, cfg.ModelID, cfg.DefaultVoice)
	} else {
		log.Printf("OPENAI_API_KEY not set; /api/session disabled")
	}

	var scraper httpapi.Scraper
	if cfg.ScrapingAntAPIKey != "" {
		scraper = scrape.NewClient(cfg.ScrapingAntBaseURL, cfg.ScrapingAntAPIKey)
	} else {
		log.Printf("SCRAPINGANT_API_KEY not set; /api/scrape disabled")
	}

	var voiceSession *app.VoiceSession
	var controller httpapi.SessionController
	if *localSession {
		selfURL := cfg.BindAddr
		if strings.HasPrefix(selfURL, ":") {
			selfURL = "127.0.0.1" + selfURL
		}
		signaler := vsignal.NewHTTPSignaler("http://"+selfURL+"/api/session", cfg.NegotiationBaseURL, cfg.ModelID)
		transport := realtime.NewTransport(realtime.NewPionPlatform(), signaler, cfg.STUNServers)
		client := realtime.NewClient(transport, metrics)

		capture := audio.NewCaptureDevice(&audio.FFmpegInput{
			Command: cfg.CaptureCommand,
			Format:  cfg.CaptureFormat,
			Device:  cfg.CaptureDevice,
		}, cfg.SampleRate)
		player := audio.NewStreamPlayer(&audio.FFplayOutput{Command: cfg.PlaybackCommand}, cfg.SampleRate)

		voiceSession = app.NewVoiceSession(client, capture, player, metrics, app.Options{
			Instructions: cfg.DefaultInstructions,
			Voice:        cfg.DefaultVoice,
			SampleRate:   cfg.SampleRate,
		})
		controller = voiceSession
	}

	api := httpapi.New(httpapi.Options{
		AllowAnyOrigin:      cfg.AllowAnyOrigin,
		DefaultInstructions: cfg.DefaultInstructions,
	}, broker, scraper, controller, metrics)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	go func() {
		log.Printf("gateway listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	if voiceSession != nil {
		go func() {
			// The local session mints its credential through this process's
			// own broker endpoint, so wait for the listener.
			time.Sleep(300 * time.Millisecond)
			if err := voiceSession.Start(runCtx); err != nil {
				log.Printf("local session failed to start: %v", err)
				return
			}
			log.Printf("local session %s started", voiceSession.ID())
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	if voiceSession != nil {
		voiceSession.Stop()
	}
	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

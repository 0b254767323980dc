// voxchat runs a live voice session from the terminal against a voxlead
// gateway: microphone in via ffmpeg, assistant audio out via ffplay, and
// transcript lines printed as the conversation progresses.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/voxlead/voxlead/internal/app"
	"github.com/voxlead/voxlead/internal/audio"
	"github.com/voxlead/voxlead/internal/conversation"
	"github.com/voxlead/voxlead/internal/realtime"
	vsignal "github.com/voxlead/voxlead/internal/signal"
)

type options struct {
	gatewayURL    string
	realtimeURL   string
	model         string
	instructions  string
	scrapeURL     string
	voice         string
	sampleRate    int
	turnDetection string
	stunServers   string
	captureFormat string
	captureDevice string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxchat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voxchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	flag.StringVar(&cfg.gatewayURL, "gateway", "http://127.0.0.1:8787", "voxlead gateway base URL")
	flag.StringVar(&cfg.realtimeURL, "realtime-url", "https://api.openai.com/v1/realtime", "upstream negotiation endpoint")
	flag.StringVar(&cfg.model, "model", "gpt-4o-realtime-preview-2024-12-17", "realtime model id")
	flag.StringVar(&cfg.instructions, "instructions", "You are a helpful voice assistant for sales conversations.", "session instructions")
	flag.StringVar(&cfg.scrapeURL, "scrape", "", "optional page URL scraped into the instructions")
	flag.StringVar(&cfg.voice, "voice", "alloy", "assistant voice")
	flag.IntVar(&cfg.sampleRate, "sample-rate", 24000, "audio sample rate in Hz")
	flag.StringVar(&cfg.turnDetection, "turn-detection", app.TurnDetectionServerVAD, "turn detection mode (server_vad|none)")
	flag.StringVar(&cfg.stunServers, "stun", "stun:stun.l.google.com:19302", "comma-separated STUN servers")
	flag.StringVar(&cfg.captureFormat, "capture-format", "pulse", "ffmpeg capture format (pulse, alsa, avfoundation)")
	flag.StringVar(&cfg.captureDevice, "capture-device", "default", "ffmpeg capture device")
	flag.Parse()

	cfg.gatewayURL = strings.TrimRight(strings.TrimSpace(cfg.gatewayURL), "/")
	if cfg.gatewayURL == "" {
		return options{}, fmt.Errorf("gateway is required")
	}
	if cfg.sampleRate <= 0 {
		return options{}, fmt.Errorf("sample-rate must be positive")
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx := context.Background()

	instructions := cfg.instructions
	if cfg.scrapeURL != "" {
		content, err := scrapeViaGateway(ctx, cfg.gatewayURL, cfg.scrapeURL)
		if err != nil {
			return fmt.Errorf("scrape %s: %w", cfg.scrapeURL, err)
		}
		instructions += "\n\nContext from " + cfg.scrapeURL + ":\n" + content
	}

	var stun []string
	for _, s := range strings.Split(cfg.stunServers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			stun = append(stun, s)
		}
	}

	signaler := vsignal.NewHTTPSignaler(cfg.gatewayURL+"/api/session", cfg.realtimeURL, cfg.model)
	transport := realtime.NewTransport(realtime.NewPionPlatform(), signaler, stun)
	client := realtime.NewClient(transport, nil)

	client.Events().OnConversationUpdated(func(u realtime.Update) {
		if u.Item.Status != conversation.StatusCompleted {
			return
		}
		line := strings.TrimSpace(u.Item.Formatted.Transcript)
		if line == "" {
			line = strings.TrimSpace(u.Item.Formatted.Text)
		}
		if line != "" {
			fmt.Printf("[%s] %s\n", u.Item.Role, line)
		}
	})
	client.Events().OnError(func(err realtime.RemoteError) {
		fmt.Fprintf(os.Stderr, "voxchat: %v\n", err)
	})

	capture := audio.NewCaptureDevice(&audio.FFmpegInput{
		Format: cfg.captureFormat,
		Device: cfg.captureDevice,
	}, cfg.sampleRate)
	player := audio.NewStreamPlayer(&audio.FFplayOutput{}, cfg.sampleRate)

	session := app.NewVoiceSession(client, capture, player, nil, app.Options{
		Instructions: instructions,
		Voice:        cfg.voice,
		SampleRate:   cfg.sampleRate,
	})
	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Stop()

	if err := session.SetTurnDetection(cfg.turnDetection); err != nil {
		return err
	}
	fmt.Printf("session %s live (%s mode), ctrl-c to hang up\n", session.ID(), cfg.turnDetection)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nhanging up")
	return nil
}

func scrapeViaGateway(ctx context.Context, gatewayURL, target string) (string, error) {
	payload, err := json.Marshal(map[string]string{"url": target})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gatewayURL+"/api/scrape", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: 90 * time.Second}
	res, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("gateway scrape status %d", res.StatusCode)
	}

	var body struct {
		HTMLContent string `json:"htmlContent"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.HTMLContent, nil
}

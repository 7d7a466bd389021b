package main

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"gatecam/counting"
)

// Config is everything the service needs at startup. Flags win over
// environment variables; the environment (optionally loaded from .env) fills
// in anything the command line leaves at its default.
type Config struct {
	Input     string
	Listen    string
	ModelsDir string
	ModelName string
	StaticDir string
	DBPath    string
	CredsPath string

	Line            string
	InvertDirection bool
	CooldownFrames  int
	EvictFrames     int

	FPS           int
	MaxPeople     int
	AlertCooldown time.Duration

	Verbose bool
}

func parseConfig(args []string) (*Config, error) {
	// Missing .env is the normal case outside development.
	godotenv.Load()

	cfg := &Config{}
	fs := flag.NewFlagSet("gatecam", flag.ContinueOnError)

	fs.StringVar(&cfg.Input, "input", envOr("VIDEO_INPUT", "0"),
		"video source: device index, file path or RTSP URL")
	fs.StringVar(&cfg.Listen, "listen", envOr("LISTEN_ADDR", ":8000"), "HTTP listen address")
	fs.StringVar(&cfg.ModelsDir, "models-dir", envOr("MODELS_DIR", "models"), "directory holding YOLO models")
	fs.StringVar(&cfg.ModelName, "model", envOr("YOLO_MODEL", "yolov4-tiny"), "model name within the models directory")
	fs.StringVar(&cfg.StaticDir, "static", envOr("STATIC_DIR", "static"), "directory with the browser UI")
	fs.StringVar(&cfg.DBPath, "db", envOr("DB_PATH", "counts.sqlite"), "SQLite database path")
	fs.StringVar(&cfg.CredsPath, "firebase-creds", envOr("FIREBASE_CREDS", "firebase_creds.json"),
		"Firebase credentials file (missing file selects mock mode)")

	fs.StringVar(&cfg.Line, "line", envOr("COUNT_LINE", ""),
		"counting line as x1,y1,x2,y2 (default: vertical line at half frame width)")
	fs.BoolVar(&cfg.InvertDirection, "invert-direction", envBool("INVERT_DIRECTION"),
		"swap the in/out mapping of the counting line")
	fs.IntVar(&cfg.CooldownFrames, "cooldown-frames", envInt("COOLDOWN_FRAMES", counting.DefaultCooldownFrames),
		"frames to suppress re-counting a track after it crosses")
	fs.IntVar(&cfg.EvictFrames, "evict-frames", envInt("EVICT_FRAMES", counting.DefaultEvictFrames),
		"frames before an unseen track is forgotten")

	fs.IntVar(&cfg.FPS, "fps", envInt("FPS", 30), "processing and encoding frame rate")
	fs.IntVar(&cfg.MaxPeople, "max-people", envInt("MAX_PEOPLE_THRESHOLD", 10),
		"occupancy threshold that triggers a push alert")
	alertCooldown := fs.Int("alert-cooldown", envInt("ALERT_COOLDOWN_SECONDS", 300),
		"minimum seconds between push alerts")

	fs.BoolVar(&cfg.Verbose, "debug-verbose", envBool("DEBUG_VERBOSE"), "enable per-frame debug output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.AlertCooldown = time.Duration(*alertCooldown) * time.Second

	if cfg.FPS <= 0 {
		return nil, errors.New("fps must be positive")
	}
	if cfg.MaxPeople <= 0 {
		return nil, errors.New("max-people must be positive")
	}
	return cfg, nil
}

// parseLine parses "x1,y1,x2,y2" into a validated boundary
func parseLine(spec string) (counting.Boundary, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return counting.Boundary{}, errors.Errorf("line must be x1,y1,x2,y2, got %q", spec)
	}
	vals := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return counting.Boundary{}, errors.Wrapf(err, "bad line coordinate %q", part)
		}
		vals[i] = v
	}
	return counting.NewBoundary(
		counting.Point{X: vals[0], Y: vals[1]},
		counting.Point{X: vals[2], Y: vals[3]},
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

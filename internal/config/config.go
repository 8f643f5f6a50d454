package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/tapledger.db"

	KnownReaders []string

	// Reconciliation
	DedupWindow         time.Duration // taps closer than this are retransmissions
	PollInterval        time.Duration // how often the processing job fires
	BatchLimit          int           // max raw rows claimed per cycle
	JobMaxAttempts      int
	JobBackoff          []time.Duration
	MinJustificationLen int

	// Notification
	NotifyRecipients []string // HR-manager role addresses

	// Heartbeat retention
	HeartbeatRetentionDays int // 0 = keep forever
	PruneIntervalHours     int // how often the pruner runs (default 6)
}

func FromEnv() Config {
	addr := getenvDefault("TAPLEDGER_HTTP_ADDR", ":8080")

	env := strings.ToLower(getenvDefault("TAPLEDGER_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	dbPath := getenvDefault("TAPLEDGER_DB_PATH", "./data/tapledger.db")

	knownReaders := splitCSV(os.Getenv("TAPLEDGER_KNOWN_READERS"))
	recipients := splitCSV(os.Getenv("TAPLEDGER_NOTIFY_RECIPIENTS"))

	dedupSeconds := getenvInt("TAPLEDGER_DEDUP_WINDOW_SECONDS", 10)
	pollMinutes := getenvInt("TAPLEDGER_POLL_INTERVAL_MINUTES", 5)

	batchLimit := getenvInt("TAPLEDGER_BATCH_LIMIT", 500)
	if batchLimit == 0 {
		batchLimit = 500
	}
	maxAttempts := getenvInt("TAPLEDGER_JOB_MAX_ATTEMPTS", 3)
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	backoff := parseBackoff(os.Getenv("TAPLEDGER_JOB_BACKOFF_SECONDS"))
	minJustification := getenvInt("TAPLEDGER_MIN_JUSTIFICATION_LEN", 20)

	retentionDays := getenvInt("TAPLEDGER_HEARTBEAT_RETENTION_DAYS", 30)
	pruneInterval := getenvInt("TAPLEDGER_PRUNE_INTERVAL_HOURS", 6)

	return Config{
		HTTPAddr: addr,
		Env:      env,
		DBPath:   dbPath,

		KnownReaders: knownReaders,

		DedupWindow:         time.Duration(dedupSeconds) * time.Second,
		PollInterval:        time.Duration(pollMinutes) * time.Minute,
		BatchLimit:          batchLimit,
		JobMaxAttempts:      maxAttempts,
		JobBackoff:          backoff,
		MinJustificationLen: minJustification,

		NotifyRecipients: recipients,

		HeartbeatRetentionDays: retentionDays,
		PruneIntervalHours:     pruneInterval,
	}
}

// parseBackoff turns "60,120,300" into a backoff schedule. Falls back to the
// default schedule when the value is empty or malformed.
func parseBackoff(v string) []time.Duration {
	def := []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second}

	parts := splitCSV(v)
	if len(parts) == 0 {
		return def
	}
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return def
		}
		out = append(out, time.Duration(n)*time.Second)
	}
	return out
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

package reconcile

import (
	"os"
	"strconv"
	"time"

	"github.com/onnwee/clip-tender/capture"
)

// Policy holds the scheduling and retention knobs.
type Policy struct {
	// RetentionDays: captures older than this many days are pruned (0 = disabled)
	RetentionDays int
	// DryRun: log what would be pruned without deleting
	DryRun bool
	// PruneInterval: how often the prune job runs
	PruneInterval time.Duration
	// ReconcileInterval: fallback sweep period when no notification arrives
	ReconcileInterval time.Duration
}

// LoadPolicy reads the policy from environment variables.
func LoadPolicy() Policy {
	p := Policy{
		RetentionDays:     capture.DefaultRetentionDays,
		PruneInterval:     24 * time.Hour,
		ReconcileInterval: 15 * time.Minute,
	}
	if s := os.Getenv("RETENTION_DAYS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			p.RetentionDays = n
		}
	}
	if os.Getenv("RETENTION_DRY_RUN") == "1" {
		p.DryRun = true
	}
	if s := os.Getenv("PRUNE_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			p.PruneInterval = d
		}
	}
	if s := os.Getenv("RECONCILE_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			p.ReconcileInterval = d
		}
	}
	return p
}

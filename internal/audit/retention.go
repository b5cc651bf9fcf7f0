package audit

import (
	"log"

	"github.com/robfig/cron/v3"
)

// StartRetentionJob schedules a daily prune of expired audit entries.
// The returned cron must be stopped on shutdown.
func StartRetentionJob(a *Auditor) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc("@daily", func() {
		if _, err := a.Prune(); err != nil {
			log.Printf("[audit] retention prune failed: %v", err)
		}
	})
	if err != nil {
		// "@daily" is a constant expression; this only fires on a bad build.
		log.Printf("[audit] failed to schedule retention job: %v", err)
		return c
	}
	c.Start()
	return c
}

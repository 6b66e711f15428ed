package timezone

import (
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	currentLocation *time.Location
	initOnce        sync.Once
)

// Initialize sets the timezone based on the TZ environment variable. The
// first call wins; later calls are no-ops, so lazy and eager initialization
// cannot race.
func Initialize() {
	initOnce.Do(func() {
		tzName := "UTC"

		envTZ := os.Getenv("TZ")
		if envTZ != "" {
			tzName = envTZ
		}

		loc, err := time.LoadLocation(tzName)
		if err != nil {
			log.Warnf("Failed to load timezone %s from environment: %v. Falling back to UTC.", tzName, err)
			currentLocation = time.UTC
			return
		}

		log.Infof("Successfully initialized timezone to %s", tzName)
		currentLocation = loc
	})
}

// Location returns the configured timezone location.
func Location() *time.Location {
	Initialize()
	return currentLocation
}

// Now returns the current time in the configured timezone.
func Now() time.Time {
	return time.Now().In(Location())
}

// Format formats a time.Time in the configured timezone.
func Format(t time.Time, layout string) string {
	return t.In(Location()).Format(layout)
}

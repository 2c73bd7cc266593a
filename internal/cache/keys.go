package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func ScrapeJobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("scrapejob:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func TemplateListKey(userID uuid.UUID, filterHash string) string {
	return fmt.Sprintf("templates:%s:%s", userID, filterHash)
}

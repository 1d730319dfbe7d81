package cache

import "fmt"

const keyPrefix = "mediaforge"

func JobStatusKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", keyPrefix, jobID)
}

func RateLimitKey(scope, client string) string {
	return fmt.Sprintf("%s:ratelimit:%s:%s", keyPrefix, scope, client)
}

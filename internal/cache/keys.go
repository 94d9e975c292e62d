package cache

import "fmt"

func EditStatusKey(editID string) string {
	return fmt.Sprintf("edit:%s", editID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}

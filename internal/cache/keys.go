package cache

import "fmt"

func ProviderLimitsKey(providerName string) string {
	return fmt.Sprintf("provider:limits:%s", providerName)
}

func ModelQueueKey(modelID string) string {
	return fmt.Sprintf("provider:queue:%s", modelID)
}

// ProviderKeyPattern matches every provider-routing cache entry.
const ProviderKeyPattern = "provider:*"

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

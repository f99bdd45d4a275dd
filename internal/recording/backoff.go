package recording

import "time"

// backoff returns the reconnect delay for the given 1-based consecutive
// failure count: 1->2s, 2->5s, 3->10s, >=4->30s.
func backoff(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return 2 * time.Second
	case attempt == 2:
		return 5 * time.Second
	case attempt == 3:
		return 10 * time.Second
	default:
		return 30 * time.Second
	}
}

// reconnectSleep is the pause after a successful re-resolution mid-stream
// (§4.8 step 7, success branch).
const reconnectSleep = 2 * time.Second

// resolveFailureSleep is the pause after a non-offline re-resolution
// failure mid-stream (§4.8 step 7, failure branch).
const resolveFailureSleep = 3 * time.Second

// offlineRetryBudget is the number of consecutive offline detections a
// task tolerates before retiring.
const offlineRetryBudget = 5

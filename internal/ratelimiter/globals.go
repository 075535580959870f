package ratelimiter

import (
	"time"
)

const (
	defaultHostInterval = 500 * time.Millisecond
	queueSize           = 1000
)

package redis

import "errors"

var (
	ErrFailedToParseRedisConnString = errors.New("redis: invalid REDIS_URL")
	ErrRedisNotReady                = errors.New("redis: server did not answer ping")
	ErrEmptyConnectionURL           = errors.New("redis: empty connection URL")
	ErrHealthcheckFailed            = errors.New("redis: healthcheck failed")
)

// Package logger builds the *slog.Logger used across promptr.
//
// New assembles a JSON or text slog handler from functional options and wraps
// it with LogHandlerDecorator, which pulls request-scoped values (request id,
// authenticated user id) out of the context on every record. Attribute
// helpers in attr.go keep key names stable across services, so a billing
// webhook and the optimize endpoint both log `user_id`, `customer_id` and
// `event_id` the same way.
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "promptr"),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "subscription reconciled",
//		logger.UserID(userID),
//		logger.SubscriptionID(sub.ProviderSubscriptionID),
//	)
package logger

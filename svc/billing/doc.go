// Package billing keeps promptr's local subscription state consistent with
// the billing provider and governs the free-tier prompt optimization quota.
//
// The Reconciler is the only writer of subscription rows once a user is
// onboarded: it applies verified provider webhooks to the Store, skipping
// duplicates (EventLedger) and events older than the row they would
// overwrite. The Broker creates hosted checkout and portal sessions, the Gate
// admits or rejects paid-feature requests, and the Onboarder creates the
// billing customer and TRIAL subscription for newly verified users.
//
// Stripe and Paddle are supported behind the Provider interface.
package billing

// Package syncagent keeps a client's cached entitlement view in step with
// the server.
//
// A Session holds the credential and the cached View. Only login
// (NewSession), logout (Session.Close) and the Agent write to it. The Agent
// polls GET /api/subscriptions through a Fetcher every DefaultInterval and on
// Nudge, and replaces the view wholesale when plan, status, period end or the
// subscribed flag differ from the cached one. It never writes server state.
//
// Basic usage:
//
//	session := syncagent.NewSession(token, nil)
//	agent := syncagent.New(session, syncagent.NewHTTPFetcher(baseURL, nil))
//	if err := agent.Start(ctx); err != nil {
//		return err
//	}
//	defer agent.Stop()
//
//	for view := range session.Changes() {
//		render(view)
//	}
package syncagent

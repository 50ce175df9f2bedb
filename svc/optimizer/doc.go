// Package optimizer streams prompt rewrites from an OpenAI-compatible chat
// completion API (Groq by default).
//
// Client.Optimize sends the system prompt and the user's prompt with its
// target length, and returns a Stream of content deltas parsed from the
// server-sent events response. Stream.Copy writes the deltas to a writer and
// flushes after each one, which is how the HTTP layer relays them.
//
//	client, err := optimizer.New(cfg)
//	stream, err := client.Optimize(ctx, optimizer.Request{Prompt: p, TargetLength: 120})
//	defer stream.Close()
//	_, err = stream.Copy(w, flush)
package optimizer

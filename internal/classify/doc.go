// Package classify wraps the external LLM classification service behind a
// batch-oriented client.
//
// A batch of record payloads goes out as one JSON-only chat completion
// request; the response must be a JSON array with exactly one object per
// input, in order. The client retries transient failures with exponential
// backoff, falls back from the primary to the secondary model, validates the
// decoded payload against a JSON schema, and coerces every label into its
// closed vocabulary. Vocabulary drift is absorbed, never surfaced as an
// error; only transport, shape, and authorization failures reach the caller.
package classify

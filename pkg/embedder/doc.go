// Package embedder provides text embedding clients for query and chunk
// vectors.
//
// # Supported Providers
//
//   - OpenAI and OpenAI-compatible services: text-embedding-3-small,
//     text-embedding-3-large, text-embedding-ada-002
//   - Hash: a deterministic local embedder for development and tests
//
// # Usage
//
//	client, err := embedder.NewOpenAIEmbedder(apiKey, embedder.Config{
//	    Model:     "text-embedding-3-small",
//	    BatchSize: 100,
//	})
//
//	vec, err := client.EmbedSingle(ctx, "what depends on Checkout-Service?")
//
// Embed splits its input into batches of Config.BatchSize and returns the
// vectors in input order.
package embedder

// Package embedder turns post text into vector embeddings.
//
// Four providers implement the Embedder interface:
//
//   - jina and openai: hosted /embeddings APIs with retry, exponential
//     backoff and an LRU cache keyed by SHA-256 of model and text
//   - ollama: any OpenAI-compatible server, through langchaingo
//   - local: an offline feature-hashing embedder for development and tests
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local", CacheSize: 1000})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "Black Wallet\nlost near park",
//	})
//
// # Provider Selection
//
// When Config.Provider is empty the provider is detected from the environment:
//
//  1. If POSTSEARCH_EMBEDDING_PROVIDER is set → use specified provider
//  2. Else if JINA_API_KEY is set → use Jina AI
//  3. Else if OPENAI_API_KEY is set → use OpenAI
//  4. Else → local provider
//
// # Errors
//
// Provider errors wrap ErrProviderFailed and keep the underlying cause, so a
// context deadline stays visible. Classify maps any provider error onto
// types.ErrProviderTimeout or types.ErrProvider for callers outside this
// package.
package embedder

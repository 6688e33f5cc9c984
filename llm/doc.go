// Package llm is the model-backend layer of the agent. It defines the
// Backend contract the agent loop consumes and a Client that routes
// requests to provider adapters through a middleware chain.
//
// The only concrete adapter wraps github.com/teilomillet/gollm:
//
//	adapter, err := llm.NewGollmAdapter(llm.AdapterConfig{
//	    Model:  "claude-sonnet",
//	    APIKey: key,
//	})
//	client := llm.NewClient(
//	    llm.WithProvider(adapter.Name(), adapter),
//	    llm.WithDefaultModel(adapter.Model()),
//	    llm.WithMiddleware(llm.RetryMiddleware(llm.DefaultRetryPolicy())),
//	)
//
// Errors returned by adapters belong to a small taxonomy rooted at SDKError;
// IsRetryable decides which of them RetryMiddleware will retry.
package llm

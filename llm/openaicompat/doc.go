// Package openaicompat implements llm.Provider for endpoints that speak the
// OpenAI Chat Completions format.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "qwen",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://dashscope.aliyuncs.com/compatible-mode",
//	    DefaultModel: "qwen-plus",
//	}, logger)
package openaicompat

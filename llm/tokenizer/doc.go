// Package tokenizer counts tokens for chat prompts and knowledge chunks.
// OpenAI model families use tiktoken; other models fall back to a
// CJK-aware character estimator.
package tokenizer

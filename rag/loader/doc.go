// Package loader reads knowledge files from disk into rag.Document values
// for indexing by rag.KnowledgeRetriever.
//
// Supported formats out of the box:
//   - Plain text (.txt)
//   - Markdown (.md, .markdown), split per heading section
//
// Use LoaderRegistry.LoadDir to load a whole documents directory.
package loader

// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package rag 提供工作流知识检索节点使用的检索后端。

# 管线

文档经 loader 读入后由 DocumentChunker 按段落、句子递归切分（按 token 计数），
通过 Embedder（通常是 llm/embedding 的 OpenAI 兼容客户端）向量化，
写入 VectorStore。KnowledgeRetriever 实现 workflow.Retriever：

	r := rag.NewKnowledgeRetriever(store, embedder, nil, rag.DefaultRetrieverConfig(), logger)
	_, err := r.Index(ctx, docs)
	context, err := r.Retrieve(ctx, "question")

Retrieve 返回 top-K 分块内容，以空行拼接；知识库为空时返回空字符串。

# 向量存储

  - InMemoryVectorStore 进程内余弦相似度检索，同分时保持插入顺序
  - QdrantStore 通过 REST API 使用外部 Qdrant 集合
*/
package rag

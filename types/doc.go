/*
Package types provides the shared type definitions for the memflow engine.

types is the lowest-level public package and depends on nothing inside the
module, so every other package (scoring, graph, entity, summary, retrieval,
consolidation, store, llm) can share one vocabulary without import cycles.

Core types:

  - Memory: a stored, retrievable unit of conversational content
  - LifecycleStage: age-derived classification, NEW through ARCHIVED
  - ConsolidationStrategy: how a memory was produced during consolidation
  - Message and Role: conversation messages with an explicit role tag
  - Error and ErrorCode: structured error chain with retryability marker
*/
package types

/*
Package llm defines the narrow language-model surface memflow consumes.

The engine never talks to a provider directly: callers hand it anything that
implements Model (one chat-completion call returning plain text), typically
via the ModelFunc adapter. RateLimited throttles background invocations with
a token bucket. ExtractJSONBlock tolerantly pulls the first balanced JSON
object out of prose-wrapped model output, and TokenCounter implementations
(Estimate, Tiktoken) size text for the summarizer's token trigger.
*/
package llm

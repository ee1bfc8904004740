package metrics

import (
	"time"
)

var (
	modelLatencyBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}
	toolLatencyBuckets  = []float64{0.05, 0.1, 0.5, 1, 5, 10, 30}
)

// Tool call outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// ObserveModelCall records one language model request.
func (c *Collector) ObserveModelCall(provider string, elapsed time.Duration, promptTokens, completionTokens int, err error) {
	labels := Labels("provider", provider)
	c.Counter("model_requests_total", "Language model requests", labels).Inc()
	if err != nil {
		c.Counter("model_errors_total", "Language model requests that failed", labels).Inc()
		return
	}
	c.Histogram("model_latency_seconds", "Language model latency in seconds", labels, modelLatencyBuckets).
		Observe(elapsed.Seconds())
	c.Counter("prompt_tokens_total", "Prompt tokens reported by the provider", labels).Add(int64(promptTokens))
	c.Counter("completion_tokens_total", "Completion tokens reported by the provider", labels).Add(int64(completionTokens))
}

// ObserveToolCall records one tool dispatch. outcome is OutcomeOK or OutcomeError.
func (c *Collector) ObserveToolCall(tool, outcome string, elapsed time.Duration) {
	c.Counter("tool_calls_total", "Tool invocations", Labels("tool", tool, "outcome", outcome)).Inc()
	c.Histogram("tool_latency_seconds", "Tool execution latency in seconds", Labels("tool", tool), toolLatencyBuckets).
		Observe(elapsed.Seconds())
}

// ObserveTurn records a finished user turn.
func (c *Collector) ObserveTurn(iterations int, stalled bool) {
	c.Counter("turns_total", "User turns answered", "").Inc()
	c.Histogram("turn_iterations", "Model invocations per user turn", "", []float64{1, 2, 3, 4, 5, 6, 10}).
		Observe(float64(iterations))
	if stalled {
		c.Counter("stalled_turns_total", "Turns stopped at the iteration ceiling", "").Inc()
	}
}

// ObserveRateLimitWait records time spent blocked on the model rate limiter.
func (c *Collector) ObserveRateLimitWait(waited time.Duration) {
	if waited <= 0 {
		return
	}
	c.Counter("rate_limit_waits_total", "Model calls delayed by the rate limiter", "").Inc()
}

// SetActiveDatasets reports how many dataset tools are registered.
func (c *Collector) SetActiveDatasets(n int) {
	c.Gauge("datasets_active", "Dataset query tools registered", "").Set(int64(n))
}

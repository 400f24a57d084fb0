package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(providerPromptTokens, providerCompletionTokens) }

var (
	providerPromptTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_prompt_tokens_total",
			Help: "Prompt tokens sent per provider/model (best-effort counts).",
		},
		[]string{"provider", "model"},
	)

	providerCompletionTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_completion_tokens_total",
			Help: "Completion tokens received per provider/model.",
		},
		[]string{"provider", "model"},
	)
)

func ObserveProviderTokens(provider, model string, prompt, completion int) {
	lbl := []string{norm(provider), norm(model)}
	providerPromptTokens.WithLabelValues(lbl...).Add(float64(prompt))
	providerCompletionTokens.WithLabelValues(lbl...).Add(float64(completion))
}

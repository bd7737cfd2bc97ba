package agent

import (
	"context"
	"strings"

	"sqlagent/internal/llm"

	"github.com/sirupsen/logrus"
)

const enhancerSystemPrompt = `You are an expert data analyst specializing in transforming ambiguous or incomplete
data queries into clear, specific questions. Your task is to rephrase the user's query into a more
precise and comprehensive question that will lead to more accurate SQL query generation.

Guidelines:
1. Maintain the original intent and meaning
2. Add specificity where the query is ambiguous
3. Expand abbreviated terms or jargon into their full forms
4. Structure the question to clearly indicate what data is being requested
5. DO NOT add made-up constraints or filters that weren't in the original query
6. Provide ONLY the enhanced query as your response, with no explanations or notes

Example:
User: "top products last month"
You: "What were the top-selling products based on sales volume during the last month?"`

// Enhancer rephrases user questions for better SQL generation accuracy.
type Enhancer struct {
	client llm.Client
	logger *logrus.Logger
}

// NewEnhancer creates a query enhancer.
func NewEnhancer(client llm.Client, logger *logrus.Logger) *Enhancer {
	return &Enhancer{client: client, logger: logger}
}

// Enhance rephrases the question and returns (enhanced, original). The
// original question is always preserved; any failure falls back to it.
func (e *Enhancer) Enhance(ctx context.Context, question string) (string, string) {
	// Already well-formed questions are passed through untouched.
	if isWellFormed(question) {
		return question, question
	}

	prompt := llm.MakeLlama3Prompt(question, enhancerSystemPrompt)
	result, err := e.client.Generate(ctx, prompt, llm.GenerateOptions{
		MaxNewTokens: 150,
		Stage:        "enhance",
	})
	if err != nil {
		e.logger.WithError(err).Warn("Query enhancement failed, using original question")
		return question, question
	}

	enhanced := strings.TrimSpace(result)
	if len(enhanced) < 10 {
		return question, question
	}

	if enhanced != question {
		e.logger.WithFields(logrus.Fields{
			"original": question,
			"enhanced": enhanced,
		}).Info("Enhanced query")
	}

	return enhanced, question
}

// isWellFormed reports whether the question is long and explicit enough to
// skip enhancement.
func isWellFormed(question string) bool {
	if len(strings.Fields(question)) <= 10 {
		return false
	}
	lower := strings.ToLower(question)
	for _, kw := range []string{"select", "from", "where", "group", "order"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeLlama3Prompt(t *testing.T) {
	prompt := MakeLlama3Prompt("top products", "You are a SQL expert.")

	assert.True(t, strings.HasPrefix(prompt, "<|begin_of_text|><|start_header_id|>system<|end_header_id|>"))
	assert.Contains(t, prompt, "You are a SQL expert.")
	assert.Contains(t, prompt, "<|start_header_id|>user<|end_header_id|>")
	assert.Contains(t, prompt, "top products")
	assert.True(t, strings.HasSuffix(prompt, "<|start_header_id|>assistant<|end_header_id|>\n\n"))

	// System comes before user, user before assistant
	sys := strings.Index(prompt, "You are a SQL expert.")
	user := strings.Index(prompt, "top products")
	asst := strings.Index(prompt, "assistant")
	assert.Less(t, sys, user)
	assert.Less(t, user, asst)
}

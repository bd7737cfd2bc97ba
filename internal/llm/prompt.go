package llm

import "fmt"

// MakeLlama3Prompt formats a prompt for Llama-3 instruct models.
func MakeLlama3Prompt(userQuery, system string) string {
	systemPrompt := ""
	if system != "" {
		systemPrompt = fmt.Sprintf("<|start_header_id|>system<|end_header_id|>\n\n%s<|eot_id|>", system)
	}
	return fmt.Sprintf("<|begin_of_text|>%s<|start_header_id|>user<|end_header_id|>\n\n%s<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n", systemPrompt, userQuery)
}

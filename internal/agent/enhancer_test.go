package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnhanceRephrasesShortQuestions(t *testing.T) {
	client := &stubClient{responses: []string{
		"What were the top-selling products based on sales volume during the last month?",
	}}
	enhancer := NewEnhancer(client, setupTestLogger())

	enhanced, original := enhancer.Enhance(context.Background(), "top products last month")
	assert.Equal(t, "top products last month", original)
	assert.Contains(t, enhanced, "top-selling products")
	assert.Equal(t, 1, client.calls)
}

func TestEnhanceSkipsWellFormedQuestions(t *testing.T) {
	client := &stubClient{responses: []string{"should not be called"}}
	enhancer := NewEnhancer(client, setupTestLogger())

	question := "Select the total sales amount from the sales data grouped by region and ordered by total"
	enhanced, original := enhancer.Enhance(context.Background(), question)
	assert.Equal(t, question, enhanced)
	assert.Equal(t, question, original)
	assert.Zero(t, client.calls)
}

func TestEnhanceFallsBackOnError(t *testing.T) {
	client := &stubClient{err: fmt.Errorf("api unavailable")}
	enhancer := NewEnhancer(client, setupTestLogger())

	enhanced, original := enhancer.Enhance(context.Background(), "top products")
	assert.Equal(t, "top products", enhanced)
	assert.Equal(t, "top products", original)
}

func TestEnhanceFallsBackOnShortOutput(t *testing.T) {
	client := &stubClient{responses: []string{"ok"}}
	enhancer := NewEnhancer(client, setupTestLogger())

	enhanced, _ := enhancer.Enhance(context.Background(), "top products")
	assert.Equal(t, "top products", enhanced)
}

func TestIsWellFormed(t *testing.T) {
	assert.False(t, isWellFormed("top products"))
	assert.False(t, isWellFormed(strings.Repeat("word ", 12)))
	assert.True(t, isWellFormed("please select all of the sales rows from the data where region is North"))
}

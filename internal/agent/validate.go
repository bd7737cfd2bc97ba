package agent

import (
	"fmt"
	"regexp"
	"strings"
)

var forbiddenStatements = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|GRANT|REVOKE|ATTACH|PRAGMA)\b`)

// ValidateReadOnly проверяет SQL-запрос на наличие запрещённых конструкций.
// Только SELECT (и WITH ... SELECT) допускаются к выполнению на warehouse.
func ValidateReadOnly(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return fmt.Errorf("empty SQL statement")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("only SELECT statements are allowed")
	}

	if match := forbiddenStatements.FindString(trimmed); match != "" {
		return fmt.Errorf("forbidden operation: %s", strings.ToUpper(match))
	}

	return nil
}

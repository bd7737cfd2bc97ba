package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateReadOnlyAcceptsSelect(t *testing.T) {
	queries := []string{
		"SELECT * FROM sales_data",
		"select Sales_Rep, SUM(Sales_Amount) from sales_data group by Sales_Rep",
		"  SELECT 1  ",
		"WITH totals AS (SELECT Region, SUM(Sales_Amount) s FROM sales_data GROUP BY Region) SELECT * FROM totals",
	}

	for _, q := range queries {
		assert.NoError(t, ValidateReadOnly(q), q)
	}
}

func TestValidateReadOnlyRejectsMutations(t *testing.T) {
	cases := map[string]string{
		"DELETE FROM sales_data":                          "only SELECT",
		"DROP TABLE sales_data":                           "only SELECT",
		"INSERT INTO sales_data VALUES (1)":               "only SELECT",
		"SELECT * FROM sales_data; DROP TABLE sales_data": "forbidden operation",
		"SELECT * FROM sales_data WHERE id IN (SELECT id FROM t); UPDATE t SET x=1": "forbidden operation",
	}

	for q, want := range cases {
		err := ValidateReadOnly(q)
		assert.Error(t, err, q)
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateReadOnlyRejectsEmpty(t *testing.T) {
	assert.Error(t, ValidateReadOnly(""))
	assert.Error(t, ValidateReadOnly("   \n "))
}

func TestValidateReadOnlyCaseInsensitive(t *testing.T) {
	err := ValidateReadOnly("SELECT * FROM t; dRoP TABLE t")
	assert.Error(t, err)
}

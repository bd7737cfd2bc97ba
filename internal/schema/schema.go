package schema

import (
	"fmt"
	"strings"
)

// Column describes one column of a warehouse table.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Table describes a warehouse table.
type Table struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Columns     []Column `json:"columns"`
	Rows        int64    `json:"rows,omitempty"`
}

// PromptText renders the table schema as text suitable for an LLM prompt.
func (t Table) PromptText() string {
	var b strings.Builder
	for _, c := range t.Columns {
		b.WriteString(fmt.Sprintf("- %s (%s)", c.Name, c.Type))
		if c.Description != "" {
			b.WriteString(": " + c.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ColumnNames returns the column names of the table.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// DefaultSalesTable returns the built-in schema for the sales_data table.
// It is served without touching the warehouse.
func DefaultSalesTable() Table {
	return Table{
		Name:        "sales_data",
		Description: "Daily sales transactions",
		Columns: []Column{
			{Name: "Product_ID", Type: "INTEGER", Description: "Unique identifier for products"},
			{Name: "Sale_Date", Type: "DATE", Description: "Date of the sale"},
			{Name: "Sales_Rep", Type: "TEXT", Description: "Name of the sales representative"},
			{Name: "Region", Type: "TEXT", Description: "Geographic region of the sale"},
			{Name: "Sales_Amount", Type: "REAL", Description: "Total amount of the sale"},
			{Name: "Quantity_Sold", Type: "INTEGER", Description: "Number of units sold"},
			{Name: "Product_Category", Type: "TEXT", Description: "Category of the product"},
			{Name: "Unit_Cost", Type: "REAL", Description: "Cost per unit"},
			{Name: "Unit_Price", Type: "REAL", Description: "Price per unit"},
			{Name: "Customer_Type", Type: "TEXT", Description: "Type of customer (Retail, Wholesale, etc.)"},
			{Name: "Discount", Type: "REAL", Description: "Discount percentage applied"},
			{Name: "Payment_Method", Type: "TEXT", Description: "Method of payment"},
			{Name: "Sales_Channel", Type: "TEXT", Description: "Channel through which sale was made"},
			{Name: "Region_and_Sales_Rep", Type: "TEXT", Description: "Combination of region and sales rep"},
		},
	}
}

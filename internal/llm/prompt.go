package llm

import (
	"fmt"
	"strings"
)

// PriorTurn is the slice of a past exchange that is replayed to the model.
type PriorTurn struct {
	Question string
	SQL      string
	Error    string
}

// BuildSystemPrompt constructs the system prompt with schema context for SQL generation.
func BuildSystemPrompt(dialect, schema string) string {
	if dialect == "" {
		dialect = "SQL"
	}
	return fmt.Sprintf(`You are a SQL query generator for a %s database. Your job is to convert natural language questions into a single valid SQL query.

RULES:
1. First write one or two short lines starting with "Thought:" describing which tables and columns answer the question
2. Then write exactly one SQL statement on its own line, ending with a semicolon
3. Use only SELECT statements - never INSERT, UPDATE, DELETE, DROP, ALTER, TRUNCATE or any other modifying statement
4. If the question is about column counts or names, use INFORMATION_SCHEMA
5. If the question is about record counts, use COUNT(*)
6. Include appropriate JOINs based on foreign key relationships shown in the schema
7. Always include reasonable LIMIT clauses for potentially large result sets (default to 100 if unspecified)
8. No markdown code blocks
9. Follow-up questions refer to the earlier conversation; reuse its tables and filters when that is what the user means

DATABASE SCHEMA:
%s

If the user's question CANNOT be answered with the available tables and columns, respond with exactly this format:
MISSING: <explain what tables, columns, or data would be needed>

Do not guess or hallucinate table/column names that don't exist in the schema above.

EXAMPLES:

User: "how many customers are there"
Thought: customers holds one row per customer, so count them.
SELECT COUNT(*) AS customer_count FROM customers;

User: "show me all orders with customer emails"
Thought: orders.customer_id references customers.id.
SELECT o.id, o.total, c.email
FROM orders o
JOIN customers c ON o.customer_id = c.id
LIMIT 100;

User: "what's the weather today"
MISSING: The database contains no weather-related tables.`, dialect, schema)
}

// BuildGenerationMessages assembles the conversation for the SQL generation
// call: system prompt, replayed history, then the new question.
func BuildGenerationMessages(dialect, schema string, history []PriorTurn, question string) []Message {
	messages := make([]Message, 0, 2+2*len(history))
	messages = append(messages, Message{Role: RoleSystem, Content: BuildSystemPrompt(dialect, schema)})

	for _, turn := range history {
		messages = append(messages, Message{Role: RoleUser, Content: turn.Question})

		reply := turn.SQL
		if turn.Error != "" {
			if reply != "" {
				reply += "\n"
			}
			reply += "ERROR: " + turn.Error
		}
		messages = append(messages, Message{Role: RoleAssistant, Content: reply})
	}

	return append(messages, Message{Role: RoleUser, Content: question})
}

// BuildNarrationMessages constructs the second call that explains rows in prose.
func BuildNarrationMessages(schema, question, sql, rows string) []Message {
	if strings.TrimSpace(rows) == "" {
		rows = "(the query returned no rows)"
	}

	prompt := fmt.Sprintf(`You are an exceptional assistant. Based on the schema, question, SQL query, and SQL response, write a natural language answer that reflects the data accurately.

Keep it short. Mention concrete values from the response. Do not invent rows that are not in the response. Do not repeat the SQL query.

Schema:
%s

Question: %s
SQL Query: %s
SQL Response:
%s

Answer:`, schema, question, sql, rows)

	return []Message{{Role: RoleUser, Content: prompt}}
}

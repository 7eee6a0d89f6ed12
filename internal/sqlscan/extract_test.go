package sqlscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractResources(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{"drop table", "DROP TABLE IF EXISTS public.orders CASCADE", []string{"public.orders"}},
		{"insert select", "INSERT INTO archive (id) SELECT id FROM Orders o WHERE o.id > 0", []string{"archive", "orders"}},
		{"update", "UPDATE accounts SET balance = 0 WHERE id = 1", []string{"accounts"}},
		{"delete only", "DELETE FROM ONLY sessions WHERE expired", []string{"sessions"}},
		{"join list", "SELECT * FROM a AS x, b y JOIN c ON c.id = x.id LEFT JOIN d USING (id)", []string{"a", "b", "c", "d"}},
		{"policy target", "CREATE POLICY tenant_read ON invoices USING (tenant_id IN (SELECT id FROM tenants))", []string{"invoices", "tenants"}},
		{"drop policy", "DROP POLICY IF EXISTS tenant_read ON invoices", []string{"invoices"}},
		{"index", "CREATE INDEX idx_orders_user ON orders (user_id)", []string{"orders"}},
		{"grant", "GRANT SELECT ON TABLE reports TO analyst", []string{"reports"}},
		{"foreign key", "ALTER TABLE line_items ADD CONSTRAINT fk FOREIGN KEY (order_id) REFERENCES orders(id)", []string{"line_items", "orders"}},
		{"truncate", "TRUNCATE TABLE staging_events", []string{"staging_events"}},
		{"quoted", `DELETE FROM "Sales"."Q1 Orders"`, []string{"Sales.Q1 Orders"}},
		{"extract is not a table", "SELECT EXTRACT(YEAR FROM created_at) FROM events", []string{"events"}},
		{"distinct from", "SELECT 1 FROM t WHERE a IS DISTINCT FROM b", []string{"t"}},
		{"table function", "SELECT * FROM generate_series(1, 10)", nil},
		{"subquery", "SELECT * FROM (SELECT 1) sub", nil},
		{"comments and strings", "-- FROM ghost\nUPDATE t SET note = 'FROM nowhere'", []string{"t"}},
		{"multiple statements", "DROP POLICY p ON t1; SELECT 1 FROM t2 JOIN t3 ON t2.id = t3.id", []string{"t1", "t2", "t3"}},
		{"empty", "", nil},
		{"garbage", ") ( ; FROM", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractResources(tt.sql)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractAll_DeduplicatesCaseInsensitively(t *testing.T) {
	got := ExtractAll(
		"DELETE FROM Orders",
		"UPDATE orders SET x = 1",
		`INSERT INTO "Audit" VALUES (1)`,
		"DROP TABLE audit",
	)
	assert.Equal(t, []string{"Audit", "orders"}, got)
}

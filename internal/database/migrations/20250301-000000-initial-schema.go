package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250301-000000",
		Description: "Initial schema",
		Up: []string{
			// Machines - the monitored catalog. Non-price fields are owned
			// externally; price, learned_selectors_json and price_updated_at
			// are owned by the extraction orchestrator.
			`CREATE TABLE IF NOT EXISTS machines (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				product_url TEXT NOT NULL,
				brand TEXT,
				category TEXT,
				currency TEXT NOT NULL DEFAULT 'USD',
				price REAL,
				variant_attributes_json TEXT,
				learned_selectors_json TEXT,
				price_updated_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_machines_brand ON machines(brand)`,

			// Price history - append-only; every extraction attempt yields a row.
			`CREATE TABLE IF NOT EXISTS price_history (
				id TEXT PRIMARY KEY,
				machine_id TEXT NOT NULL,
				price REAL,
				currency TEXT NOT NULL DEFAULT 'USD',
				previous_price REAL,
				tier_used TEXT NOT NULL,
				selector_or_path TEXT,
				confidence REAL NOT NULL DEFAULT 0,
				validation_status TEXT NOT NULL,
				failure_reason TEXT,
				batch_id TEXT,
				requires_approval INTEGER NOT NULL DEFAULT 0,
				llm_cost_usd REAL NOT NULL DEFAULT 0,
				llm_tokens_input INTEGER NOT NULL DEFAULT 0,
				llm_tokens_output INTEGER NOT NULL DEFAULT 0,
				approved_at TEXT,
				rejected_at TEXT,
				created_at TEXT NOT NULL,
				FOREIGN KEY (machine_id) REFERENCES machines(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_price_history_machine_id ON price_history(machine_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_price_history_batch_id ON price_history(batch_id)`,
			`CREATE INDEX IF NOT EXISTS idx_price_history_approval ON price_history(requires_approval) WHERE requires_approval = 1`,

			// Batches - store-backed so restarts don't lose work.
			`CREATE TABLE IF NOT EXISTS batches (
				id TEXT PRIMARY KEY,
				status TEXT NOT NULL DEFAULT 'pending',
				machine_ids_json TEXT NOT NULL,
				success_count INTEGER NOT NULL DEFAULT 0,
				failure_count INTEGER NOT NULL DEFAULT 0,
				results_json TEXT,
				debug INTEGER NOT NULL DEFAULT 0,
				llm_cost_usd REAL NOT NULL DEFAULT 0,
				llm_tokens_input INTEGER NOT NULL DEFAULT 0,
				llm_tokens_output INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status, created_at)`,
		},
	})
}

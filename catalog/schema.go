package catalog

const Schema = `
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	current_price REAL NOT NULL,
	base_price REAL NOT NULL,
	cost_price REAL NOT NULL,
	min_price REAL NOT NULL,
	max_price REAL NOT NULL,
	stock_quantity INTEGER NOT NULL DEFAULT 0,
	pricing_strategy TEXT NOT NULL DEFAULT 'RL',
	last_price_update DATETIME NOT NULL,
	last_strategy_change DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id TEXT PRIMARY KEY,
	product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	price REAL NOT NULL,
	change_percentage REAL NOT NULL DEFAULT 0,
	timestamp DATETIME NOT NULL,
	units_sold INTEGER NOT NULL DEFAULT 0,
	revenue REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_price_history_product_time ON price_history(product_id, timestamp);
`

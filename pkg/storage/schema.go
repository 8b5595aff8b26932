package storage

var schema = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		business_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		info TEXT NOT NULL DEFAULT '',
		risk_level TEXT NOT NULL DEFAULT 'LOW',
		balance REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_customers_business ON customers (business_id, name)`,

	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		business_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		unit_price REAL NOT NULL DEFAULT 0,
		low_stock_threshold INTEGER,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_business ON products (business_id, name)`,

	`CREATE TABLE IF NOT EXISTS inventory_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		business_id INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		quantity_on_hand REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (business_id, product_id)
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		business_id INTEGER NOT NULL,
		customer_id INTEGER,
		product_id INTEGER,
		type TEXT NOT NULL,
		amount REAL NOT NULL,
		quantity REAL NOT NULL DEFAULT 1,
		note TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'VOICE_AGENT',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_business ON transactions (business_id, type, created_at)`,

	`CREATE TABLE IF NOT EXISTS expenses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		business_id INTEGER NOT NULL,
		amount REAL NOT NULL,
		category TEXT NOT NULL DEFAULT 'MISC',
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS daily_analytics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		business_id INTEGER NOT NULL,
		day TEXT NOT NULL,
		total_sales REAL NOT NULL DEFAULT 0,
		total_purchases REAL NOT NULL DEFAULT 0,
		total_expenses REAL NOT NULL DEFAULT 0,
		UNIQUE (business_id, day)
	)`,
}

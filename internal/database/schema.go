package database

var schemas = map[Dialect][]string{
	MySQL:  mysqlSchema,
	SQLite: sqliteSchema,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS credit_balances (
    user_id VARCHAR(191) NOT NULL PRIMARY KEY,
    credits INT NOT NULL DEFAULT 0,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    CONSTRAINT chk_credit_balances_non_negative CHECK (credits >= 0)
)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(191) NOT NULL,
    kind VARCHAR(16) NOT NULL,
    amount INT NOT NULL,
    idempotency_key VARCHAR(191) NOT NULL,
    reference VARCHAR(255) NOT NULL DEFAULT '',
    created_at DATETIME(6) NOT NULL,
    UNIQUE KEY uniq_credit_transactions_key (idempotency_key),
    KEY idx_credit_transactions_user (user_id, created_at)
)`,
	`CREATE TABLE IF NOT EXISTS generations (
    id CHAR(36) NOT NULL PRIMARY KEY,
    user_id VARCHAR(191) NOT NULL,
    prompt TEXT NOT NULL,
    style VARCHAR(64) NOT NULL,
    aspect_ratio VARCHAR(32) NOT NULL,
    media_url TEXT NOT NULL,
    storage_path VARCHAR(512) NOT NULL DEFAULT '',
    metadata JSON NOT NULL,
    created_at DATETIME(6) NOT NULL,
    KEY idx_generations_user_created (user_id, created_at)
)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS credit_balances (
    user_id TEXT NOT NULL PRIMARY KEY,
    credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    amount INTEGER NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    reference TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS generations (
    id TEXT NOT NULL PRIMARY KEY,
    user_id TEXT NOT NULL,
    prompt TEXT NOT NULL,
    style TEXT NOT NULL,
    aspect_ratio TEXT NOT NULL,
    media_url TEXT NOT NULL,
    storage_path TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL,
    created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_generations_user_created ON generations(user_id, created_at)`,
}

package repository

// Schema definitions for the model registry.
// Compatible with both SQLite and PostgreSQL.

// features and weights hold JSON: the ordered feature list and a
// feature-to-weight map. At most one row has active = 1.
const schemaModels = `
CREATE TABLE IF NOT EXISTS models (
    version TEXT PRIMARY KEY,
    link TEXT NOT NULL DEFAULT 'logistic',
    features TEXT NOT NULL,
    weights TEXT NOT NULL,
    bias DOUBLE PRECISION NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
`

const indexModelsActive = `
CREATE INDEX IF NOT EXISTS idx_models_active ON models(active);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaModels,
		indexModelsActive,
	}
}

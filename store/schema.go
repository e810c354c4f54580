package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Processed source documents with hash-based change detection
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    file_type TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    status TEXT DEFAULT 'pending',
    chunks INTEGER DEFAULT 0,
    questions INTEGER DEFAULT 0,
    records INTEGER DEFAULT 0,
    last_error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Merged QA records; embeddings are little-endian float32 blobs
CREATE TABLE IF NOT EXISTS qa_records (
    id INTEGER PRIMARY KEY,
    context TEXT NOT NULL,
    question TEXT NOT NULL,
    answer TEXT NOT NULL,
    emb_context BLOB,
    emb_question BLOB,
    emb_answer BLOB,
    image_refs JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Question embeddings of qa_records for nearest-neighbour search
CREATE VIRTUAL TABLE IF NOT EXISTS vec_qa_records USING vec0(
    record_id INTEGER PRIMARY KEY,
    embedding float[%[1]d] distance_metric=cosine
);

-- Imported pairs, deduplicated on (context, question)
CREATE TABLE IF NOT EXISTS qa_pairs (
    id INTEGER PRIMARY KEY,
    context TEXT NOT NULL,
    question TEXT NOT NULL,
    answer TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(context, question)
);

-- Embeddings of context + " " + question for qa_pairs
CREATE VIRTUAL TABLE IF NOT EXISTS vec_qa_pairs USING vec0(
    pair_id INTEGER PRIMARY KEY,
    embedding float[%[1]d] distance_metric=cosine
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
`, embeddingDim)
}

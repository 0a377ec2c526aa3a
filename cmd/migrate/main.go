package main

import (
	"log"

	"ai-tutor-be/internal/config"
	"ai-tutor-be/internal/model"
	"ai-tutor-be/pkg/database"
)

func main() {
	cfg := config.Load()

	db, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		log.Fatalf("Unable to connect to GORM DB: %v", err)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		log.Fatalf("Failed to enable pgvector extension: %v", err)
	}

	err = db.AutoMigrate(
		&model.Conversation{},
		&model.Document{},
		&model.DocChunk{},
		&model.Message{},
		&model.Memory{},
	)
	if err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}

	// HNSW indexes for the three similarity-searched tables. Cosine opclass
	// matches the 1 - (embedding <=> query) scoring in the repositories.
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_doc_chunks_embedding ON doc_chunks USING hnsw (embedding vector_cosine_ops)",
		"CREATE INDEX IF NOT EXISTS idx_messages_embedding ON messages USING hnsw (embedding vector_cosine_ops)",
		"CREATE INDEX IF NOT EXISTS idx_memories_embedding ON memories USING hnsw (embedding vector_cosine_ops)",
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			log.Fatalf("Index creation failed: %v", err)
		}
	}

	log.Println("Migration complete")
}

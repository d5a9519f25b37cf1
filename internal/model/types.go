// Package model defines the domain types shared across ingestion,
// storage, retrieval, and chat.
package model

import (
	"time"
)

// ParserVersion is stamped into DocumentMetadata at parse time.
const ParserVersion = "1.1.0"

// SourceStatus is the lifecycle state of a source file.
type SourceStatus string

const (
	StatusNew      SourceStatus = "new"
	StatusIndexing SourceStatus = "indexing"
	StatusIndexed  SourceStatus = "indexed"
	StatusFailed   SourceStatus = "failed"
)

// EmbeddingsStatus reports whether a source has usable dense vectors.
type EmbeddingsStatus string

const (
	EmbeddingsAvailable   EmbeddingsStatus = "available"
	EmbeddingsUnavailable EmbeddingsStatus = "unavailable"
)

// ChunkType classifies a parsed chunk.
type ChunkType string

const (
	ChunkText    ChunkType = "text"
	ChunkTable   ChunkType = "table"
	ChunkFormula ChunkType = "formula"
	ChunkHeader  ChunkType = "header"
	ChunkCaption ChunkType = "caption"
)

// NormalizeChunkType maps serialised chunk type strings to a ChunkType,
// accepting the historical "heading" alias.
func NormalizeChunkType(s string) ChunkType {
	switch ChunkType(s) {
	case ChunkText, ChunkTable, ChunkFormula, ChunkHeader, ChunkCaption:
		return ChunkType(s)
	}
	if s == "heading" {
		return ChunkHeader
	}
	return ChunkText
}

// ChunkingMethod selects one of the five chunking strategies.
type ChunkingMethod string

const (
	MethodGeneral           ChunkingMethod = "general"
	MethodContextEnrichment ChunkingMethod = "context_enrichment"
	MethodHierarchy         ChunkingMethod = "hierarchy"
	MethodPCR               ChunkingMethod = "pcr"
	MethodSymbol            ChunkingMethod = "symbol"
)

// DocType selects the heading pattern set used by hierarchy chunking.
type DocType string

const (
	DocTechnicalManual DocType = "technical_manual"
	DocGost            DocType = "gost"
	DocAPIDocs         DocType = "api_docs"
	DocMarkdown        DocType = "markdown"
)

// ChatMode selects how a chat request uses retrieval.
type ChatMode string

const (
	ModeRAG   ChatMode = "rag"
	ModeModel ChatMode = "model"
	ModeAgent ChatMode = "agent"
)

// IndexState is the per-document index outcome stored in the document row.
// Persisted as the legacy integers 0/1/2.
type IndexState int

const (
	IndexNone  IndexState = 0
	IndexOK    IndexState = 1
	IndexError IndexState = 2
)

// Notebook is a corpus of sources with its own database and chat history.
type Notebook struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source is a file bound to exactly one notebook.
type Source struct {
	ID               string           `json:"id"`
	NotebookID       string           `json:"notebook_id"`
	Filename         string           `json:"filename"`
	Filepath         string           `json:"filepath"`
	FileKind         string           `json:"file_kind"` // pdf, docx, xlsx, other
	SizeBytes        int64            `json:"size_bytes"`
	Status           SourceStatus     `json:"status"`
	IsEnabled        bool             `json:"is_enabled"`
	HasDocs          bool             `json:"has_docs"`
	HasParsing       bool             `json:"has_parsing"`
	HasBase          bool             `json:"has_base"`
	EmbeddingsStatus EmbeddingsStatus `json:"embeddings_status"`
	IndexWarning     string           `json:"index_warning,omitempty"`
	SortOrder        int              `json:"sort_order"`
	AddedAt          time.Time        `json:"added_at"`
	// Override is the nullable per-source parser configuration. Nil fields
	// inherit from the notebook's parsing settings.
	Override *ParsingOverride `json:"individual_parsing_config,omitempty"`
}

// ChatMessage is one turn of a notebook's chat history.
type ChatMessage struct {
	ID         string    `json:"id"`
	NotebookID string    `json:"notebook_id"`
	Role       string    `json:"role"` // user, assistant
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentMetadata describes one parsed document.
type DocumentMetadata struct {
	DocID         string           `json:"doc_id"`
	SourceID      string           `json:"source_id"`
	Filename      string           `json:"filename"`
	Filepath      string           `json:"filepath"`
	FileHash      string           `json:"file_hash"`
	SizeBytes     int64            `json:"size_bytes"`
	PageCount     int              `json:"page_count"`
	TotalChunks   int              `json:"total_chunks"`
	Language      string           `json:"language"`
	ParserVersion string           `json:"parser_version"`
	ParsedAt      time.Time        `json:"parsed_at"`
	Config        *ParsingSettings `json:"config,omitempty"`
	IsEnabled     bool             `json:"is_enabled"`
}

// ParsedChunk is the atomic unit of retrieval.
type ParsedChunk struct {
	ChunkID       string    `json:"chunk_id"`
	DocID         string    `json:"doc_id"`
	ChunkIndex    int       `json:"chunk_index"`
	ChunkType     ChunkType `json:"chunk_type"`
	PageNumber    int       `json:"page_number,omitempty"`
	SectionHeader string    `json:"section_header,omitempty"`
	ParentHeader  string    `json:"parent_header,omitempty"`
	PrevTail      string    `json:"prev_tail,omitempty"`
	NextHead      string    `json:"next_head,omitempty"`
	Text          string    `json:"text"`
	TokenCount    int       `json:"token_count"`
	// EmbeddingText, when non-empty, is what the embedder encodes instead
	// of Text (context enrichment, PCR child windows).
	EmbeddingText string `json:"embedding_text,omitempty"`
	// ParentChunkID links PCR children to their logical parent window.
	ParentChunkID string `json:"parent_chunk_id,omitempty"`
}

// EmbedInput returns the text the embedder should encode for this chunk.
func (c *ParsedChunk) EmbedInput() string {
	if c.EmbeddingText != "" {
		return c.EmbeddingText
	}
	return c.Text
}

// EmbeddedChunk pairs a chunk with its dense vector.
type EmbeddedChunk struct {
	ParsedChunk
	Vector         []float32 `json:"vector"`
	EmbeddingModel string    `json:"embedding_model"`
	EmbeddedAt     time.Time `json:"embedded_at"`
	// EmbeddingFailed is true iff the vector is all-zero.
	EmbeddingFailed bool `json:"embedding_failed"`
}

// RetrievedChunk is the projection hybrid search hands to the chat engine.
type RetrievedChunk struct {
	SourceID     string  `json:"source_id"`
	Source       string  `json:"source"`
	Page         int     `json:"page"`
	SectionID    string  `json:"section_id"`
	SectionTitle string  `json:"section_title"`
	Text         string  `json:"text"`
	Type         string  `json:"type"`
	DocID        string  `json:"doc_id"`
	Score        float64 `json:"score"`
}

// IndexStatus aggregates source lifecycle counters for a notebook.
type IndexStatus struct {
	Total    int `json:"total"`
	Indexed  int `json:"indexed"`
	Indexing int `json:"indexing"`
	Failed   int `json:"failed"`
}

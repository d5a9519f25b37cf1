package model

// ParsingSettings are the per-notebook chunking defaults.
type ParsingSettings struct {
	ChunkSize         int            `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap      int            `json:"chunk_overlap" yaml:"chunk_overlap"`
	MinChunkSize      int            `json:"min_chunk_size" yaml:"min_chunk_size"`
	OCREnabled        bool           `json:"ocr_enabled" yaml:"ocr_enabled"`
	OCRLanguage       string         `json:"ocr_language" yaml:"ocr_language"`
	AutoParseOnUpload bool           `json:"auto_parse_on_upload" yaml:"auto_parse_on_upload"`
	ChunkingMethod    ChunkingMethod `json:"chunking_method" yaml:"chunking_method"`
	ContextWindow     int            `json:"context_window" yaml:"context_window"`
	UseLLMSummary     bool           `json:"use_llm_summary" yaml:"use_llm_summary"`
	DocType           DocType        `json:"doc_type" yaml:"doc_type"`
	ParentChunkSize   int            `json:"parent_chunk_size" yaml:"parent_chunk_size"`
	ChildChunkSize    int            `json:"child_chunk_size" yaml:"child_chunk_size"`
	SymbolSeparator   string         `json:"symbol_separator" yaml:"symbol_separator"`
}

// DefaultParsingSettings returns the stock configuration new notebooks get.
func DefaultParsingSettings() ParsingSettings {
	return ParsingSettings{
		ChunkSize:         512,
		ChunkOverlap:      64,
		MinChunkSize:      50,
		OCREnabled:        true,
		OCRLanguage:       "rus+eng",
		AutoParseOnUpload: true,
		ChunkingMethod:    MethodGeneral,
		ContextWindow:     128,
		UseLLMSummary:     false,
		DocType:           DocTechnicalManual,
		ParentChunkSize:   1024,
		ChildChunkSize:    128,
		SymbolSeparator:   "---chunk---",
	}
}

// ParsingOverride is a nullable copy of ParsingSettings attached to a
// single source. Nil fields inherit the notebook value.
type ParsingOverride struct {
	ChunkSize         *int            `json:"chunk_size,omitempty"`
	ChunkOverlap      *int            `json:"chunk_overlap,omitempty"`
	MinChunkSize      *int            `json:"min_chunk_size,omitempty"`
	OCREnabled        *bool           `json:"ocr_enabled,omitempty"`
	OCRLanguage       *string         `json:"ocr_language,omitempty"`
	AutoParseOnUpload *bool           `json:"auto_parse_on_upload,omitempty"`
	ChunkingMethod    *ChunkingMethod `json:"chunking_method,omitempty"`
	ContextWindow     *int            `json:"context_window,omitempty"`
	UseLLMSummary     *bool           `json:"use_llm_summary,omitempty"`
	DocType           *DocType        `json:"doc_type,omitempty"`
	ParentChunkSize   *int            `json:"parent_chunk_size,omitempty"`
	ChildChunkSize    *int            `json:"child_chunk_size,omitempty"`
	SymbolSeparator   *string         `json:"symbol_separator,omitempty"`
}

// Merge applies the override on top of the notebook settings. Nil fields
// mean inherit, never disable.
func (o *ParsingOverride) Merge(base ParsingSettings) ParsingSettings {
	if o == nil {
		return base
	}
	out := base
	if o.ChunkSize != nil {
		out.ChunkSize = *o.ChunkSize
	}
	if o.ChunkOverlap != nil {
		out.ChunkOverlap = *o.ChunkOverlap
	}
	if o.MinChunkSize != nil {
		out.MinChunkSize = *o.MinChunkSize
	}
	if o.OCREnabled != nil {
		out.OCREnabled = *o.OCREnabled
	}
	if o.OCRLanguage != nil {
		out.OCRLanguage = *o.OCRLanguage
	}
	if o.AutoParseOnUpload != nil {
		out.AutoParseOnUpload = *o.AutoParseOnUpload
	}
	if o.ChunkingMethod != nil {
		out.ChunkingMethod = *o.ChunkingMethod
	}
	if o.ContextWindow != nil {
		out.ContextWindow = *o.ContextWindow
	}
	if o.UseLLMSummary != nil {
		out.UseLLMSummary = *o.UseLLMSummary
	}
	if o.DocType != nil {
		out.DocType = *o.DocType
	}
	if o.ParentChunkSize != nil {
		out.ParentChunkSize = *o.ParentChunkSize
	}
	if o.ChildChunkSize != nil {
		out.ChildChunkSize = *o.ChildChunkSize
	}
	if o.SymbolSeparator != nil {
		out.SymbolSeparator = *o.SymbolSeparator
	}
	return out
}

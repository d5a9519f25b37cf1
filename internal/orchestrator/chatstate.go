package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Bezzdar/local-rag/internal/chat"
	"github.com/Bezzdar/local-rag/internal/model"
)

// The orchestrator backs the chat engine: it persists history in the
// global store, tracks the per-notebook chat version, numbers sources
// for stable citations, retrieves through the notebook's database, and
// resolves agent cards.
var _ chat.HistoryStore = (*Orchestrator)(nil)
var _ chat.VersionSource = (*Orchestrator)(nil)
var _ chat.SourceOrders = (*Orchestrator)(nil)
var _ chat.Retriever = (*Orchestrator)(nil)
var _ chat.AgentResolver = (*Orchestrator)(nil)

// Append stores one chat turn.
func (o *Orchestrator) Append(notebookID, role, content string) (model.ChatMessage, error) {
	msg := model.ChatMessage{
		ID:         uuid.NewString(),
		NotebookID: notebookID,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.global.AppendChatMessage(msg); err != nil {
		return model.ChatMessage{}, err
	}
	return msg, nil
}

// List returns the notebook's chat history oldest first.
func (o *Orchestrator) List(notebookID string) ([]model.ChatMessage, error) {
	return o.global.ChatHistory(notebookID)
}

// DeleteMessage removes one chat message.
func (o *Orchestrator) DeleteMessage(notebookID, messageID string) error {
	return o.global.DeleteChatMessage(notebookID, messageID)
}

// ChatVersion returns the notebook's current chat version. Streams
// snapshot it before generating and drop their answer when it moved.
func (o *Orchestrator) ChatVersion(notebookID string) int64 {
	o.versionMu.Lock()
	defer o.versionMu.Unlock()
	return o.chatVersions[notebookID]
}

// ClearMessages wipes the notebook's chat history and bumps the chat
// version so in-flight streams discard their answers.
func (o *Orchestrator) ClearMessages(notebookID string) error {
	if err := o.global.ClearChatHistory(notebookID); err != nil {
		return err
	}
	o.versionMu.Lock()
	o.chatVersions[notebookID]++
	o.versionMu.Unlock()
	return nil
}

// SourceOrderMap numbers the notebook's sources 1..N in display order.
// Citations use these numbers so they stay stable across answers.
func (o *Orchestrator) SourceOrderMap(notebookID string) map[string]int {
	sources, err := o.global.ListSources(notebookID)
	if err != nil {
		return map[string]int{}
	}
	orders := make(map[string]int, len(sources))
	for i, src := range sources {
		orders[src.ID] = i + 1
	}
	return orders
}

// Retrieve runs hybrid search against the notebook's database.
func (o *Orchestrator) Retrieve(ctx context.Context, notebookID, message string, selectedSourceIDs []string, topN int) ([]model.RetrievedChunk, error) {
	db, err := o.NotebookDB(notebookID)
	if err != nil {
		return nil, err
	}
	o.embedMu.RLock()
	searcher := o.searcher
	o.embedMu.RUnlock()
	return searcher.Retrieve(ctx, db, message, selectedSourceIDs, topN)
}

// ResolveAgent maps an agent id to its chat card.
func (o *Orchestrator) ResolveAgent(id string) (chat.AgentInfo, bool) {
	m, ok := o.agents.Resolve(id)
	if !ok {
		return chat.AgentInfo{}, false
	}
	return chat.AgentInfo{ID: m.ID, Name: m.Name, Tools: m.Tools}, true
}

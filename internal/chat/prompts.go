// Package chat assembles mode-specific prompts, streams tokens from an
// upstream LLM, and persists finished turns unless the history moved
// underneath the stream.
package chat

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Bezzdar/local-rag/internal/model"
)

// DefaultHistoryWindow is the number of trailing messages included in
// the prompt when the client does not override it.
const DefaultHistoryWindow = 5

// History window bounds for client overrides.
const (
	MinHistoryWindow = 1
	MaxHistoryWindow = 50
)

// NoSourcesMessage is returned in rag mode when nothing passes the
// relevance threshold; the LLM is not called.
const NoSourcesMessage = "В загруженной документации релевантной информации не найдено. " +
	"Уточните запрос или загрузите нужные документы."

const systemRAGWithSources = "Ты работаешь в строгом режиме RAG (Retrieval-Augmented Generation).\n" +
	"Ниже предоставлены фрагменты из загруженной документации. " +
	"Каждый фрагмент помечен номером источника в квадратных скобках, например [1], [2].\n\n" +
	"ОБЯЗАТЕЛЬНЫЕ ПРАВИЛА:\n" +
	"1. Отвечай ИСКЛЮЧИТЕЛЬНО на основе предоставленных фрагментов.\n" +
	"2. Каждое утверждение подкрепляй ссылкой: «Согласно [1], …» или «… как указано в [2]».\n" +
	"3. Не используй собственные знания и не делай предположений вне контекста.\n" +
	"4. Если в источниках есть противоречия — укажи это явно.\n" +
	"5. Если информация частичная — укажи, что найдено, а чего нет в документации.\n" +
	"6. Запрещены фразы: «возможно», «скорее всего», «я думаю», «по моему мнению».\n" +
	"7. Формат ответа: [Ответ] → [Источник: документ, раздел, страница]\n\n" +
	"ФРАГМЕНТЫ ДОКУМЕНТАЦИИ:\n\n%s"

const systemModelWithSources = "Ты работаешь в аналитическом режиме.\n" +
	"Ниже предоставлены фрагменты из загруженной документации. " +
	"Каждый фрагмент помечен номером источника в квадратных скобках, например [1], [2].\n\n" +
	"ПРАВИЛА РАБОТЫ:\n" +
	"1. Используй предоставленные источники как основу рассуждения.\n" +
	"2. Ты можешь анализировать, делать выводы и предлагать решения, выходящие за рамки источников.\n" +
	"3. Явно разделяй два типа контента в ответе:\n" +
	"   • «[По документации]: …» — факты из источников с указанием [N]\n" +
	"   • «[Анализ]: …» — твои выводы, рекомендации, рассуждения\n" +
	"4. При ссылке на конкретный фрагмент используй его номер: «Согласно [1], …»\n" +
	"5. Разрешены: «на мой взгляд», «рекомендую рассмотреть», «исходя из практики»\n\n" +
	"ФРАГМЕНТЫ ДОКУМЕНТАЦИИ:\n\n%s"

const systemModelNoSources = "Ты работаешь в аналитическом режиме.\n" +
	"Релевантной документации по данному запросу не найдено в загруженных источниках.\n\n" +
	"ПРАВИЛА РАБОТЫ:\n" +
	"1. Отвечай на основе своих профессиональных знаний.\n" +
	"2. В начале ответа явно укажи, что ответ основан на общих знаниях, " +
	"а не на загруженной документации.\n" +
	"3. Используй маркировку «[Анализ / общие знания]: …» для всего ответа.\n" +
	"4. Разрешены: «на мой взгляд», «рекомендую рассмотреть», «исходя из практики».\n" +
	"5. Предположения разрешены при явном их обозначении."

const systemAgentTemplate = "Ты специализированный доменный агент в составе мультиагентной системы.\n" +
	"Работай строго в своей роли и давай практически применимые ответы.\n\n" +
	"КАРТОЧКА АГЕНТА:\n%s\n\n" +
	"ПРАВИЛА:\n" +
	"1. Не выходи за пределы своей компетенции; если запрос вне зоны роли — явно сообщи об этом.\n" +
	"2. Структурируй ответ: цель → действия → результат/чек-лист.\n" +
	"3. Если в запросе есть неопределенность, предложи 2-3 уточняющих вопроса.\n" +
	"4. Пиши конкретно, без воды."

// Message is one prompt entry in the upstream chat format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NormalizeMode maps arbitrary client input to a supported mode,
// defaulting to rag.
func NormalizeMode(raw string) model.ChatMode {
	switch model.ChatMode(strings.ToLower(strings.TrimSpace(raw))) {
	case model.ModeModel:
		return model.ModeModel
	case model.ModeAgent:
		return model.ModeAgent
	default:
		return model.ModeRAG
	}
}

// ClampHistoryWindow bounds the history window to [1, 50], defaulting
// zero to 5.
func ClampHistoryWindow(n int) int {
	if n == 0 {
		return DefaultHistoryWindow
	}
	if n < MinHistoryWindow {
		return MinHistoryWindow
	}
	if n > MaxHistoryWindow {
		return MaxHistoryWindow
	}
	return n
}

// BuildHistory trims chat history to the trailing window and drops
// blank messages.
func BuildHistory(messages []model.ChatMessage, limit int) []Message {
	limit = ClampHistoryWindow(limit)
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// BuildRAGContext renders retrieved chunks as numbered prompt
// fragments. When sourceOrder is provided, the [N] reference of a
// chunk equals its document's position in the notebook's source list,
// so the same source keeps the same number across answers.
func BuildRAGContext(chunks []model.RetrievedChunk, sourceOrder map[string]int) string {
	if len(chunks) == 0 {
		return ""
	}
	var parts []string
	for i, chunk := range chunks {
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}
		src := filepath.Base(chunk.Source)
		if src == "" || src == "." {
			src = "unknown"
		}
		pageStr := ""
		if chunk.Page > 0 {
			pageStr = fmt.Sprintf(" (стр. %d)", chunk.Page)
		}
		refNum := i + 1
		if n, ok := sourceOrder[chunk.SourceID]; ok {
			refNum = n
		}
		parts = append(parts, fmt.Sprintf("[%d] %s%s:\n%s", refNum, src, pageStr, text))
	}
	return strings.Join(parts, "\n\n")
}

// BuildMessages assembles the system message for a mode and prepends
// it to the history.
func BuildMessages(mode model.ChatMode, history []Message, ragContext string, sourcesFound bool) []Message {
	var system string
	switch {
	case mode == model.ModeRAG:
		system = fmt.Sprintf(systemRAGWithSources, ragContext)
	case mode == model.ModeAgent:
		if ragContext == "" {
			ragContext = "id=agent\nrole=generalist"
		}
		system = fmt.Sprintf(systemAgentTemplate, ragContext)
	case sourcesFound && ragContext != "":
		system = fmt.Sprintf(systemModelWithSources, ragContext)
	default:
		system = systemModelNoSources
	}
	return append([]Message{{Role: "system", Content: system}}, history...)
}

// AgentInfo is the resolved agent card used to build agent answers.
type AgentInfo struct {
	ID    string
	Name  string
	Tools []string
}

// BuildAgentAnswer renders the fixed agent acknowledgement.
func BuildAgentAnswer(info AgentInfo, message string) string {
	name := strings.TrimSpace(info.Name)
	id := strings.TrimSpace(info.ID)
	label := "Агент"
	switch {
	case name != "" && id != "":
		label = fmt.Sprintf("%s [%s]", name, id)
	case name != "":
		label = name
	case id != "":
		label = id
	}
	toolsText := "не указаны"
	if len(info.Tools) > 0 {
		toolsText = strings.Join(info.Tools, ", ")
	}
	return fmt.Sprintf("Агент «%s» активирован. Доступные тулзы: %s. Запрос принят: %s", label, toolsText, message)
}

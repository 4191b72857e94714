package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/knowledge"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/llm"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/store"
)

// SearchKnowledgeBase retrieves help-article passages.
type SearchKnowledgeBase struct{ Searcher knowledge.Searcher }

func (SearchKnowledgeBase) Name() string { return "search_knowledge_base" }

func (SearchKnowledgeBase) Requires() []Permission { return []Permission{ReadKnowledge} }

func (t SearchKnowledgeBase) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Search help articles and policies for passages relevant to the customer's question.",
		Parameters: schema(`{"type":"object","properties":{
			"query":{"type":"string","description":"What to search for"},
			"k":{"type":"integer","description":"Number of passages to return (max 5)"}},"required":["query"]}`),
	}
}

func (t SearchKnowledgeBase) Execute(_ context.Context, _ Env, raw json.RawMessage) (Result, error) {
	var args struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return Result{}, fmt.Errorf("%w: query is required", ErrInvalidArguments)
	}
	k := args.K
	if k <= 0 || k > knowledge.MaxResults {
		k = knowledge.MaxResults
	}
	hits := t.Searcher.Search(query, k)
	if len(hits) == 0 {
		return Result{Data: []knowledge.Hit{}, Empty: true, Message: "No relevant articles found."}, nil
	}
	return Result{Data: hits}, nil
}

// Builtin returns every tool backed by the given stores.
func Builtin(records store.Records, searcher knowledge.Searcher) []Tool {
	out := []Tool{
		LookupUser{Records: records},
		GetOrders{Records: records},
		GetTickets{Records: records},
		UpdateTicket{Records: records},
		UpdateUserEmail{Records: records},
		FlagRefund{Records: records},
		AssignTicket{Records: records},
		GetCannedResponses{Records: records},
	}
	if searcher != nil {
		out = append(out, SearchKnowledgeBase{Searcher: searcher})
	}
	return out
}

package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/llm"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/store"
)

const (
	// MaxSuggestions is the number of ranked replies offered to an agent.
	MaxSuggestions = 3

	sentimentWindow  = 5
	suggestionWindow = 10
	copilotWindow    = 8
	contextItems     = 3
)

const coachPrompt = "You are an expert customer service coach helping agents craft helpful, empathetic responses."

const suggestionsPrompt = `Based on this customer service conversation, generate 3 different response suggestions for the human agent.

Conversation:
%s%s

Customer Sentiment: %s (score: %.2f)

Consider the customer's sentiment when crafting responses. If negative, be more empathetic. If positive, maintain the good rapport.

Respond with a JSON object {"suggestions": [...]} holding 3 objects, each containing:
- suggestion: The suggested response text (2-3 sentences)
- confidence: Your confidence this is the best response (0.0 to 1.0)
- rationale: Brief explanation of why this suggestion fits (1 sentence)

Order by confidence (highest first). Respond ONLY with the JSON, no additional text.`

const copilotPrompt = `Based on this customer service conversation, suggest a helpful response for the human agent:

%s

Provide a concise, professional suggestion for how the agent should respond. Focus on being helpful and resolving the customer's issue.`

// Transcripts exposes live conversations to the co-pilot.
type Transcripts interface {
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
	LinkedCustomer(ctx context.Context, sessionID string) (string, error)
}

// Suggestion is one ranked reply for a human agent.
type Suggestion struct {
	Suggestion string  `json:"suggestion"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// SmartSuggestions pairs ranked replies with the sentiment they were
// written for.
type SmartSuggestions struct {
	Suggestions []Suggestion     `json:"suggestions"`
	Sentiment   domain.Sentiment `json:"sentiment"`
}

// CopilotSuggestion is a single free-form reply suggestion.
type CopilotSuggestion struct {
	Suggestion string `json:"suggestion"`
}

// CustomerContext is the account data shown next to a handed-off session.
type CustomerContext struct {
	User    *domain.User    `json:"user"`
	Orders  []domain.Order  `json:"orders"`
	Tickets []domain.Ticket `json:"tickets"`
}

// Copilot assists human agents working a handed-off session.
type Copilot struct {
	model       llm.Model
	scorer      Scorer
	transcripts Transcripts
	records     store.Records
	logger      *slog.Logger
}

// NewCopilot creates a co-pilot. records may be nil, in which case the
// customer context is always empty.
func NewCopilot(model llm.Model, scorer Scorer, transcripts Transcripts, records store.Records, logger *slog.Logger) *Copilot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Copilot{
		model:       model,
		scorer:      scorer,
		transcripts: transcripts,
		records:     records,
		logger:      logger,
	}
}

// Sentiment scores the last customer messages of a session. Scoring
// failures yield neutral.
func (c *Copilot) Sentiment(ctx context.Context, sessionID string) (domain.Sentiment, error) {
	msgs, err := c.transcripts.History(ctx, sessionID)
	if err != nil {
		return domain.Sentiment{}, err
	}
	return c.sentiment(ctx, sessionID, msgs), nil
}

func (c *Copilot) sentiment(ctx context.Context, sessionID string, msgs []domain.Message) domain.Sentiment {
	var customer []string
	for _, m := range msgs {
		if m.Role == domain.RoleCustomer {
			customer = append(customer, m.Content)
		}
	}
	if len(customer) == 0 {
		return domain.NeutralSentiment()
	}
	if len(customer) > sentimentWindow {
		customer = customer[len(customer)-sentimentWindow:]
	}
	s, err := c.scorer.Score(ctx, strings.Join(customer, "\n"))
	if err != nil {
		c.logger.Warn("co-pilot sentiment failed, using neutral", "session_id", sessionID, "error", err)
		return domain.NeutralSentiment()
	}
	return Normalize(s)
}

// CustomerContext loads the linked customer's account, orders and
// tickets. An unlinked session yields an empty context.
func (c *Copilot) CustomerContext(ctx context.Context, sessionID string) (CustomerContext, error) {
	customerID, err := c.transcripts.LinkedCustomer(ctx, sessionID)
	if err != nil {
		return CustomerContext{}, err
	}
	return c.customerContext(ctx, customerID)
}

func (c *Copilot) customerContext(ctx context.Context, customerID string) (CustomerContext, error) {
	out := CustomerContext{Orders: []domain.Order{}, Tickets: []domain.Ticket{}}
	userID, ok := domain.ParseCustomerID(customerID)
	if !ok || c.records == nil {
		return out, nil
	}

	user, err := c.records.GetUser(ctx, userID)
	if err != nil {
		return CustomerContext{}, fmt.Errorf("load customer %s: %w", customerID, err)
	}
	if user == nil {
		return out, nil
	}
	out.User = user

	orders, err := c.records.ListOrders(ctx, userID)
	if err != nil {
		return CustomerContext{}, fmt.Errorf("list orders for %s: %w", customerID, err)
	}
	tickets, err := c.records.ListTickets(ctx, userID)
	if err != nil {
		return CustomerContext{}, fmt.Errorf("list tickets for %s: %w", customerID, err)
	}
	if orders != nil {
		out.Orders = orders
	}
	if tickets != nil {
		out.Tickets = tickets
	}
	return out, nil
}

// SmartSuggestions drafts up to MaxSuggestions replies ranked by
// confidence. Model or parse failures yield no suggestions.
func (c *Copilot) SmartSuggestions(ctx context.Context, sessionID string) (SmartSuggestions, error) {
	msgs, err := c.transcripts.History(ctx, sessionID)
	if err != nil {
		return SmartSuggestions{}, err
	}
	customerID, err := c.transcripts.LinkedCustomer(ctx, sessionID)
	if err != nil {
		return SmartSuggestions{}, err
	}

	out := SmartSuggestions{
		Suggestions: []Suggestion{},
		Sentiment:   c.sentiment(ctx, sessionID, msgs),
	}
	if len(msgs) == 0 {
		return out, nil
	}

	cc, err := c.customerContext(ctx, customerID)
	if err != nil {
		c.logger.Warn("co-pilot customer context unavailable", "session_id", sessionID, "error", err)
	}

	prompt := fmt.Sprintf(suggestionsPrompt,
		transcript(msgs, suggestionWindow),
		customerSummary(cc),
		strings.ToUpper(string(out.Sentiment.Label)),
		out.Sentiment.Score,
	)
	resp, err := c.model.Generate(ctx, llm.Request{
		System:   coachPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		JSON:     true,
	})
	if err != nil {
		c.logger.Warn("smart suggestions failed", "session_id", sessionID, "error", err)
		return out, nil
	}
	suggestions, err := parseSuggestions(resp.Text)
	if err != nil {
		c.logger.Warn("smart suggestions unparseable", "session_id", sessionID, "error", err)
		return out, nil
	}
	out.Suggestions = suggestions
	return out, nil
}

// Suggest drafts one reply for the agent from the recent transcript.
func (c *Copilot) Suggest(ctx context.Context, sessionID string) (CopilotSuggestion, error) {
	msgs, err := c.transcripts.History(ctx, sessionID)
	if err != nil {
		return CopilotSuggestion{}, err
	}
	history := transcript(msgs, copilotWindow)
	if history == "" {
		history = "No conversation context available."
	}
	resp, err := c.model.Generate(ctx, llm.Request{
		System:   coachPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(copilotPrompt, history)}},
	})
	if err != nil {
		return CopilotSuggestion{}, fmt.Errorf("generate co-pilot suggestion: %w", err)
	}
	return CopilotSuggestion{Suggestion: strings.TrimSpace(resp.Text)}, nil
}

// parseSuggestions accepts {"suggestions": [...]} or a bare array, then
// clamps, ranks and truncates.
func parseSuggestions(text string) ([]Suggestion, error) {
	raw := llm.StripCodeFence(text)

	var items []Suggestion
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("parse suggestions: %w", err)
		}
	} else {
		var wrapped struct {
			Suggestions []Suggestion `json:"suggestions"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, fmt.Errorf("parse suggestions: %w", err)
		}
		items = wrapped.Suggestions
	}

	out := make([]Suggestion, 0, len(items))
	for _, s := range items {
		s.Suggestion = strings.TrimSpace(s.Suggestion)
		if s.Suggestion == "" {
			continue
		}
		s.Confidence = clamp(s.Confidence, 0, 1)
		s.Rationale = strings.TrimSpace(s.Rationale)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}
	return out, nil
}

// transcript renders the last n customer, assistant and agent messages.
func transcript(msgs []domain.Message, n int) string {
	var lines []string
	for _, m := range msgs {
		var who string
		switch m.Role {
		case domain.RoleCustomer:
			who = "Customer"
		case domain.RoleAssistant:
			who = "AI"
		case domain.RoleAgent:
			who = "Agent"
		default:
			continue
		}
		lines = append(lines, who+": "+m.Content)
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func customerSummary(cc CustomerContext) string {
	if cc.User == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n\nCustomer Profile:\n- Name: %s\n- Email: %s", cc.User.Name, cc.User.Email)

	if len(cc.Orders) > 0 {
		b.WriteString("\n\nRecent Orders:")
		for i, o := range cc.Orders {
			if i == contextItems {
				break
			}
			fmt.Fprintf(&b, "\n- %s ($%.2f) - Status: %s", o.Product, o.Amount, o.Status)
		}
	}

	open := 0
	for _, t := range cc.Tickets {
		if t.Status != domain.TicketOpen && t.Status != domain.TicketInProgress {
			continue
		}
		if open == 0 {
			b.WriteString("\n\nOpen Tickets:")
		}
		fmt.Fprintf(&b, "\n- %s (Priority: %s)", t.Subject, t.Priority)
		if open++; open == contextItems {
			break
		}
	}
	return b.String()
}

package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/Kocoro-lab/deepresearch/internal/prompts"
	"github.com/Kocoro-lab/deepresearch/internal/research"
)

// Agent answers prompts in one role.
type Agent struct {
	client     *Client
	role       prompts.Role
	capability string
}

// NewAgent binds a role to the client.
func NewAgent(c *Client, role prompts.Role, capability string) *Agent {
	return &Agent{client: c, role: role, capability: capability}
}

func (a *Agent) Run(ctx context.Context, prompt string) (string, error) {
	out, err := a.client.complete(ctx, a.capability, a.role, prompt, nil)
	if err != nil {
		return "", err
	}
	return out.text, nil
}

// Searcher answers search requests with the server-side web search tool.
type Searcher struct {
	client *Client
}

// NewSearcher creates the web search capability.
func NewSearcher(c *Client) *Searcher { return &Searcher{client: c} }

func (s *Searcher) Search(ctx context.Context, req research.SearchRequest) (research.SearchResponse, error) {
	tools := []anthropic.ToolUnionParam{{
		OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{
			MaxUses: anthropic.Int(s.client.maxUses),
		},
	}}
	out, err := s.client.complete(ctx, research.CapabilitySearch, prompts.RoleSearch, research.SearchPrompt(req), tools)
	if err != nil {
		return research.SearchResponse{}, err
	}
	resp := research.SearchResponse{Text: out.text, Citations: make([]research.Citation, 0, len(out.citations))}
	for _, c := range out.citations {
		resp.Citations = append(resp.Citations, research.Citation{Title: c.title, URL: c.url})
	}
	return resp, nil
}

// NewCapabilities builds the full capability set on one client.
func NewCapabilities(c *Client) research.Capabilities {
	return research.Capabilities{
		Planner:    NewAgent(c, prompts.RolePlanner, research.CapabilityPlanning),
		Searcher:   NewSearcher(c),
		Summarizer: NewAgent(c, prompts.RoleSummary, research.CapabilitySummarization),
		Drafter:    NewAgent(c, prompts.RoleReport, research.CapabilityDrafting),
		Reviewer:   NewAgent(c, prompts.RolePeerReview, research.CapabilityReview),
	}
}

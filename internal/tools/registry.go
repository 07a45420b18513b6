package tools

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/pkg/types"
)

// Deps are the collaborators shared by all tools
type Deps struct {
	Config   *config.Config
	Manager  *email.Manager
	Accounts *email.AccountManager
	Logger   *logrus.Logger
}

// Registry manages MCP tools
type Registry struct {
	deps  *Deps
	tools map[string]Tool
}

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// NewRegistry creates a new tool registry
func NewRegistry(deps Deps) *Registry {
	reg := &Registry{
		deps:  &deps,
		tools: make(map[string]Tool),
	}

	reg.registerTools()

	return reg
}

// registerTools registers all available tools
func (r *Registry) registerTools() {
	b := base{r.deps}
	toolList := []Tool{
		&ListMailboxesTool{b},
		&CreateMailboxTool{b},
		&SyncMailboxTool{b},
		&SearchMessagesTool{b},
		&GetMessageTool{b},
		&GetThreadTool{b},
		&GetAttachmentsTool{b},
		&FlagMessageTool{b},
		&TagMessageTool{b},
		&DeleteMessageTool{b},
	}

	for _, tool := range toolList {
		r.tools[tool.Name()] = tool
		r.deps.Logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}

	r.deps.Logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools ordered by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetToolDefinitions returns tool definitions for MCP
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}

// base carries the shared dependencies into each tool
type base struct {
	*Deps
}

// account resolves the optional account_name parameter
func (b base) account(ctx context.Context, params map[string]interface{}) (*types.Account, error) {
	name, _ := params["account_name"].(string)
	return b.Accounts.GetAccount(ctx, name)
}

var accountNameProperty = map[string]interface{}{
	"type":        "string",
	"description": "Optional: Account name, the first configured account if omitted",
}

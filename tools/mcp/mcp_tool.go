// Package mcp exposes tools of external MCP servers as agent actions.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/m4xw311/thinkact/config"
	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/logging"
	"github.com/m4xw311/thinkact/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolSession is the part of *mcpsdk.ClientSession the adapter uses.
type toolSession interface {
	ListTools(ctx context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	Close() error
}

// Client manages the connection to a single MCP server subprocess.
type Client struct {
	Name  string
	cmd   *exec.Cmd
	conn  toolSession
	tools []*mcpsdk.Tool
}

// Start launches the MCP server subprocess and discovers its tools.
func Start(ctx context.Context, name, command string, args []string) (*Client, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "thinkact", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	c, err := newClient(ctx, name, conn)
	if err != nil {
		_ = conn.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, err
	}
	c.cmd = cmd
	return c, nil
}

func newClient(ctx context.Context, name string, conn toolSession) (*Client, error) {
	c := &Client{Name: name, conn: conn}
	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		c.tools = append(c.tools, list.Tools...)
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}
	return c, nil
}

// Actions returns one action per server tool.
func (c *Client) Actions() []tools.Action {
	out := make([]tools.Action, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, c.action(t))
	}
	return out
}

func (c *Client) action(t *mcpsdk.Tool) tools.Action {
	name := t.Name
	a := tools.Action{
		Name:        name,
		Description: t.Description,
		Parameters:  map[string]tools.Param{},
		Returns:     fmt.Sprintf("Text output of the %s tool from MCP server %s", name, c.Name),
		Handler: func(ctx context.Context, input string) (string, error) {
			return c.call(ctx, name, input)
		},
	}
	if t.InputSchema != nil {
		for prop, schema := range t.InputSchema.Properties {
			if schema == nil {
				continue
			}
			a.Parameters[prop] = tools.Param{Type: schema.Type, Description: schema.Description}
		}
	}
	return a
}

// call sends the decoded input to the server and concatenates text content.
func (c *Client) call(ctx context.Context, name, input string) (string, error) {
	result, err := c.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: tools.ParseInput(input).Map(),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", name)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		switch v := content.(type) {
		case *mcpsdk.TextContent:
			sb.WriteString(v.Text)
		default:
			fmt.Fprintf(&sb, "[%T content omitted]", v)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' reported an error: %s", name, sb.String())
	}
	return sb.String(), nil
}

// Stop closes the session and terminates the server subprocess.
func (c *Client) Stop() error {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

// StartAll starts every configured server. Servers that fail to start are
// logged and skipped so one broken server does not disable the agent.
func StartAll(ctx context.Context, servers []config.MCPServer, logger *slog.Logger) ([]*Client, []tools.Action) {
	log := logging.Component(logger, "mcp")
	var clients []*Client
	var actions []tools.Action
	for _, s := range servers {
		c, err := Start(ctx, s.Name, s.Command, s.Args)
		if err != nil {
			log.Warn("mcp server unavailable", slog.String("server", s.Name), slog.Any("error", err))
			continue
		}
		log.Info("mcp server started", slog.String("server", s.Name), slog.Int("tools", len(c.tools)))
		clients = append(clients, c)
		actions = append(actions, c.Actions()...)
	}
	return clients, actions
}

// mcphub-stub is a minimal stdio MCP server used as a real child process in
// integration tests: it answers initialize, tools/list, and tools/call
// without any external dependency, so test fixtures are real MCP traffic
// rather than a mocked transport.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type EchoInput struct {
	Text string `json:"text" jsonschema:"text to echo back"`
}

type EchoOutput struct {
	Text string `json:"text"`
}

func handleEcho(ctx context.Context, req *mcp.CallToolRequest, input EchoInput) (*mcp.CallToolResult, any, error) {
	return nil, EchoOutput{Text: input.Text}, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mcphub-stub",
		Version: "0.1.0",
	}, &mcp.ServerOptions{
		HasTools: true,
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echoes the given text back.",
	}, handleEcho)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		fmt.Fprintf(os.Stderr, "mcphub-stub: server error: %v\n", err)
		os.Exit(1)
	}
}

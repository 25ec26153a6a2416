// Command mcp-gateway runs the MCP observability gateway.
package main

import "github.com/fiberplane/mcp-gateway/cmd/mcp-gateway/cmd"

func main() {
	cmd.Execute()
}

// Package mcp exposes the demo control surface as MCP tools, so an MCP
// client (a chat assistant, an agent framework) can drive the buyer/seller
// demo: initialize the agents, trigger purchases, inspect payments and
// the transaction log, and reset.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	agentpay "github.com/skymint/agentpay"
)

const (
	serverName    = "agentpay-demo"
	serverVersion = "1.0.0"
)

// NewServer builds an MCP server with the demo tools registered
func NewServer(manager *agentpay.Manager) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	server.AddTool(&mcpsdk.Tool{
		Name:        "initialize_agents",
		Description: "Provision session wallets, register the buyer and seller agents, and start message polling.",
		InputSchema: map[string]interface{}{"type": "object"},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		if err := manager.InitializeAgents(ctx); err != nil {
			return errorResult(err), nil
		}
		return textResult("Agents initialized; polling started."), nil
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "trigger_purchase",
		Description: "Have the buyer agent request a quote and purchase tokens. Requires initialized agents.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"quantity": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"description": "How many tokens to purchase (default 5)",
				},
			},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		quantity := 5
		args := decodeArguments(req)
		if q, ok := args["quantity"].(float64); ok {
			quantity = int(q)
		}
		if err := manager.TriggerPurchase(ctx, quantity); err != nil {
			return errorResult(err), nil
		}
		return textResult(fmt.Sprintf("Purchase of %d tokens triggered.", quantity)), nil
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "reset_demo",
		Description: "Stop polling, discard the agents, and clear all stored state.",
		InputSchema: map[string]interface{}{"type": "object"},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		if err := manager.Reset(ctx); err != nil {
			return errorResult(err), nil
		}
		return textResult("Demo reset."), nil
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "get_payment",
		Description: "Fetch one payment with its full event history.",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"payment_id"},
			"properties": map[string]interface{}{
				"payment_id": map[string]interface{}{"type": "string"},
			},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := decodeArguments(req)
		paymentID, _ := args["payment_id"].(string)
		payment, err := manager.Store().GetPayment(paymentID)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(payment), nil
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "list_payments",
		Description: "List all payments in creation order.",
		InputSchema: map[string]interface{}{"type": "object"},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return jsonResult(manager.Store().ListPayments()), nil
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "list_agents",
		Description: "List the registered agent profiles.",
		InputSchema: map[string]interface{}{"type": "object"},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return jsonResult(manager.Store().ListAgents()), nil
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "list_logs",
		Description: "List transaction log entries, optionally filtered by agent id.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"agent_id": map[string]interface{}{"type": "string"},
			},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := decodeArguments(req)
		agentID, _ := args["agent_id"].(string)
		return jsonResult(manager.Store().Logs(agentID)), nil
	})

	return server
}

// SSEHandler serves the MCP server over SSE; mount it at /sse and
// /messages
func SSEHandler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewSSEHandler(func(req *http.Request) *mcpsdk.Server {
		return server
	}, nil)
}

// decodeArguments unmarshals the call arguments, returning an empty map
// for absent or malformed arguments
func decodeArguments(req *mcpsdk.CallToolRequest) map[string]interface{} {
	args := make(map[string]interface{})
	if req.Params.Arguments != nil {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return make(map[string]interface{})
		}
	}
	return args
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: text},
		},
	}
}

func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
	}
}

func jsonResult(v interface{}) *mcpsdk.CallToolResult {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(encoded)},
		},
	}
}

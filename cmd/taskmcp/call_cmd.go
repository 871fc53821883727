package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	callCmd = &cobra.Command{
		Use:   "call",
		Short: "Call a tool on a running server",
		Long: `Call a task tool on a running taskmcp server over the REST dispatch
endpoint. Useful for smoke tests against a live deployment.

The session ID comes from --session or the TASKMCP_SESSION environment
variable; obtain one by completing the OAuth flow.`,
		RunE: runCall,
	}

	callToolName  string
	callJSONArgs  string
	callServerURL string
	callSessionID string
	callTimeout   time.Duration
	callOutput    string
)

// GetCallCommand returns the call command for adding to the root command
func GetCallCommand() *cobra.Command {
	return callCmd
}

func init() {
	callCmd.Flags().StringVarP(&callToolName, "tool", "t", "", "Tool name (e.g. task_list) (required)")
	callCmd.Flags().StringVarP(&callJSONArgs, "json-args", "j", "{}", "JSON arguments for the tool")
	callCmd.Flags().StringVarP(&callServerURL, "server", "s", "http://127.0.0.1:8000", "Base URL of the running server")
	callCmd.Flags().StringVar(&callSessionID, "session", "", "Session ID used as the bearer token (default: $TASKMCP_SESSION)")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Request timeout")
	callCmd.Flags().StringVarP(&callOutput, "output", "o", "pretty", "Output format (pretty, json)")

	if err := callCmd.MarkFlagRequired("tool"); err != nil {
		panic(fmt.Sprintf("Failed to mark tool flag as required: %v", err))
	}

	callCmd.Example = `  # List open tasks
  taskmcp call --tool=task_list --session=$TASKMCP_SESSION

  # Create a task
  taskmcp call --tool=task_create --json-args='{"title":"Ship the release","priority":4}'

  # Raw JSON output for scripting
  taskmcp call --tool=task_stats --output=json`
}

func runCall(_ *cobra.Command, _ []string) error {
	sessionID := callSessionID
	if sessionID == "" {
		sessionID = os.Getenv("TASKMCP_SESSION")
	}
	if sessionID == "" {
		return fmt.Errorf("no session ID: pass --session or set TASKMCP_SESSION")
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(callJSONArgs), &args); err != nil {
		return fmt.Errorf("invalid JSON arguments: %w", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"name":   callToolName,
		"params": args,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		callServerURL+"/mcp/tools/call", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sessionID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var detail struct {
			Detail string `json:"detail"`
		}
		if jsonErr := json.Unmarshal(respBody, &detail); jsonErr == nil && detail.Detail != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, detail.Detail)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	if callOutput == "json" {
		fmt.Println(string(respBody))
		return nil
	}

	return printCallResult(respBody)
}

// printCallResult renders the tool envelope: each text block is printed,
// re-indented when it holds JSON.
func printCallResult(respBody []byte) error {
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		fmt.Println(string(respBody))
		return nil
	}

	for _, block := range result.Content {
		var pretty bytes.Buffer
		if json.Indent(&pretty, []byte(block.Text), "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(block.Text)
		}
	}
	return nil
}

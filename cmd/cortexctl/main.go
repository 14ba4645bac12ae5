// Command cortexctl is a thin HTTP client for cortexd's API: submit
// code, poll an execution's status, validate code without running it,
// and drop a session. Modeled on the teacher's cmd/nova subcommand
// layout (one cobra.Command per operation, a shared --server flag)
// but far smaller, since cortexd owns none of nova's registry/
// snapshot/secrets surface.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexdata/cortex/internal/domain"
)

var serverAddr string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cortexctl",
		Short: "Command-line client for the Cortex execution daemon",
	}
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:7700", "cortexd API base URL")

	rootCmd.AddCommand(submitCmd(), getCmd(), validateCmd(), dropSessionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func submitCmd() *cobra.Command {
	var (
		codeFile  string
		userID    string
		sessionID string
		dataURI   string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit code for execution",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(codeFile, args)
			if err != nil {
				return err
			}

			req := domain.ExecutionRequest{
				UserID:    userID,
				Code:      code,
				SessionID: sessionID,
				Timeout:   timeout,
			}
			if dataURI != "" {
				req.Data = &domain.TableHandle{URI: dataURI}
			}

			var rec domain.ExecutionRecord
			if err := postJSON(serverAddr+"/v1/executions", req, &rec); err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
	cmd.Flags().StringVar(&codeFile, "file", "", "path to a Python file (reads stdin if omitted and no code arg given)")
	cmd.Flags().StringVar(&userID, "user", "", "submitting user ID")
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID for session-mode execution")
	cmd.Flags().StringVar(&dataURI, "data", "", "dataset handle URI (file:// or s3://)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "execution timeout (defaults to server policy)")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Fetch an execution record by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec domain.ExecutionRecord
			if err := getJSON(serverAddr+"/v1/executions/"+args[0], &rec); err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

func validateCmd() *cobra.Command {
	var codeFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate code against policy without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(codeFile, args)
			if err != nil {
				return err
			}
			var result domain.ValidationResult
			if err := postJSON(serverAddr+"/v1/validate", map[string]string{"code": code}, &result); err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&codeFile, "file", "", "path to a Python file (reads stdin if omitted and no code arg given)")
	return cmd
}

func dropSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop-session <session-id>",
		Short: "Tear down a session's sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodDelete, serverAddr+"/v1/sessions/"+args[0], nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 300 {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("drop-session: %s: %s", resp.Status, string(body))
			}
			fmt.Println("session dropped")
			return nil
		},
	}
}

func readCode(path string, args []string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		return string(data), err
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	return string(data), err
}

func postJSON(url string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", strings.NewReader(string(buf)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

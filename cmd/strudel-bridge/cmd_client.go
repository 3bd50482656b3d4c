// Package main implements the strudel-bridge CLI commands.
// This file contains the client commands that talk to a running server.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var sendStdin bool

var sendCmd = &cobra.Command{
	Use:   "send [file]",
	Short: "Send code to the REPL (from a file or --stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSend,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Silence REPL playback",
	RunE:  runStop,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the browser session without sending code",
	RunE:  runInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bridge health (Neovim link, browser session, index size)",
	RunE:  runStatus,
}

func init() {
	sendCmd.Flags().BoolVar(&sendStdin, "stdin", false, "read code from standard input")
}

func baseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// classifyErr turns transport errors into the two diagnostics users act on:
// a timeout (slow bridge) versus an unreachable server (no bridge at all).
func classifyErr(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("request timed out after %s\nhint: increase --timeout, or check whether the browser session is stuck initializing", timeout)
	}
	return fmt.Errorf("cannot reach strudel-bridge at %s: %v\nhint: start it with 'strudel-bridge serve'", baseURL(), err)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: timeout}
}

type apiResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func postJSON(path string, body interface{}) (apiResult, error) {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return apiResult{}, err
		}
	}
	resp, err := httpClient().Post(baseURL()+path, "application/json", &payload)
	if err != nil {
		return apiResult{}, classifyErr(err)
	}
	defer resp.Body.Close()

	var out apiResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return apiResult{}, fmt.Errorf("unexpected response from %s: %w", path, err)
	}
	return out, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	var code []byte
	var err error
	switch {
	case sendStdin:
		code, err = io.ReadAll(os.Stdin)
	case len(args) == 1:
		code, err = os.ReadFile(args[0])
	default:
		return fmt.Errorf("provide a file argument or --stdin")
	}
	if err != nil {
		return fmt.Errorf("read code: %w", err)
	}

	resp, err := httpClient().Post(baseURL()+"/api/send-current-buffer", "text/plain", bytes.NewReader(code))
	if err != nil {
		return classifyErr(err)
	}
	defer resp.Body.Close()
	marker, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delivery failed: %s", bytes.TrimSpace(marker))
	}
	fmt.Println("Code sent to REPL")
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Post(baseURL()+"/api/hush", "text/plain", nil)
	if err != nil {
		return classifyErr(err)
	}
	defer resp.Body.Close()
	marker, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stop failed: %s", bytes.TrimSpace(marker))
	}
	fmt.Println("Playback stopped")
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	out, err := postJSON("/api/browser/init", nil)
	if err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("browser init failed: %s", out.Message)
	}
	fmt.Println(out.Message)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(baseURL() + "/health")
	if err != nil {
		return classifyErr(err)
	}
	defer resp.Body.Close()

	var health struct {
		Status  string `json:"status"`
		Neovim  bool   `json:"neovim"`
		Browser bool   `json:"browser"`
		Files   struct {
			Count     int   `json:"count"`
			TotalSize int64 `json:"totalSize"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("unexpected health response: %w", err)
	}

	fmt.Printf("Bridge:  %s (%s)\n", health.Status, baseURL())
	fmt.Printf("Neovim:  %s\n", onOff(health.Neovim, "connected", "not connected"))
	fmt.Printf("Browser: %s\n", onOff(health.Browser, "ready", "not running"))
	fmt.Printf("Files:   %d indexed (%d bytes)\n", health.Files.Count, health.Files.TotalSize)
	return nil
}

func onOff(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

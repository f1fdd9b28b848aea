// Command pricewatchctl drives the pricewatch API from the terminal.
//
// Usage:
//
//	pricewatchctl extract <machine_id>
//	pricewatchctl batch <machine_id> [machine_id...]
//	pricewatchctl status <batch_id>
//	pricewatchctl approve <history_id> APPROVE|REJECT
//
// Exit codes: 0 success, 2 validation failed and needs review,
// 3 extraction failed, 4 input not found.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	exitOK          = 0
	exitNeedsReview = 2
	exitFailed      = 3
	exitNotFound    = 4
)

func main() {
	server := flag.String("server", envOr("PRICEWATCH_SERVER", "http://localhost:8080"), "pricewatch API base URL")
	timeout := flag.Duration("timeout", 4*time.Minute, "request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(exitFailed)
	}

	c := &client{
		base: strings.TrimRight(*server, "/"),
		http: &http.Client{Timeout: *timeout},
	}

	var code int
	switch args[0] {
	case "extract":
		code = c.extract(args[1:])
	case "batch":
		code = c.batch(args[1:])
	case "status":
		code = c.status(args[1:])
	case "approve":
		code = c.approve(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		code = exitFailed
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintf(os.Stderr, `pricewatchctl - price extraction control

Commands:
  extract <machine_id>               run a synchronous extraction
  batch <machine_id> [machine_id...] queue a batch extraction
  status <batch_id>                  show batch progress
  approve <history_id> APPROVE|REJECT  resolve a held price change

Flags:
`)
	flag.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type client struct {
	base string
	http *http.Client
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.status, e.body)
}

func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// errExit maps transport and API errors to an exit code.
func errExit(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
		return exitNotFound
	}
	return exitFailed
}

type extractResponse struct {
	Success          bool     `json:"success"`
	HistoryID        string   `json:"history_id"`
	NewPrice         *float64 `json:"new_price"`
	OldPrice         *float64 `json:"old_price"`
	TierUsed         string   `json:"tier_used"`
	ValidationStatus string   `json:"validation_status"`
	RequiresApproval bool     `json:"requires_approval"`
	Reason           string   `json:"reason"`
}

func (c *client) extract(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pricewatchctl extract <machine_id>")
		return exitFailed
	}

	var resp extractResponse
	if err := c.do(http.MethodPost, "/api/v1/extract/"+args[0], nil, &resp); err != nil {
		return errExit(err)
	}

	switch {
	case resp.Success && !resp.RequiresApproval:
		fmt.Printf("ok: price %s (tier %s)\n", formatPrice(resp.NewPrice), resp.TierUsed)
		return exitOK
	case resp.Success && resp.RequiresApproval:
		fmt.Printf("held for approval: %s -> %s (tier %s, history %s)\n",
			formatPrice(resp.OldPrice), formatPrice(resp.NewPrice), resp.TierUsed, resp.HistoryID)
		return exitOK
	case resp.ValidationStatus == "needs_review" || resp.ValidationStatus == "out_of_range":
		fmt.Printf("needs review: status %s, reason: %s (history %s)\n",
			resp.ValidationStatus, resp.Reason, resp.HistoryID)
		return exitNeedsReview
	default:
		fmt.Printf("extraction failed: %s\n", resp.Reason)
		return exitFailed
	}
}

func (c *client) batch(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: pricewatchctl batch <machine_id> [machine_id...]")
		return exitFailed
	}

	body := map[string]any{"machine_ids": args, "debug": true}
	var resp struct {
		BatchID string `json:"batch_id"`
		Status  string `json:"status"`
	}
	if err := c.do(http.MethodPost, "/api/v1/batch", body, &resp); err != nil {
		return errExit(err)
	}
	fmt.Printf("batch %s %s (%d machines)\n", resp.BatchID, resp.Status, len(args))
	return exitOK
}

type batchStatus struct {
	ID           string   `json:"id"`
	Status       string   `json:"status"`
	MachineIDs   []string `json:"machine_ids"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	LLMCostUSD   float64  `json:"llm_cost_usd"`
	Results      []struct {
		MachineID        string   `json:"machine_id"`
		Success          bool     `json:"success"`
		Price            *float64 `json:"price"`
		Tier             string   `json:"tier_used"`
		RequiresApproval bool     `json:"requires_approval"`
		Error            string   `json:"error"`
	} `json:"results"`
}

func (c *client) status(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pricewatchctl status <batch_id>")
		return exitFailed
	}

	var resp batchStatus
	if err := c.do(http.MethodGet, "/api/v1/batch/"+args[0]+"?results=true", nil, &resp); err != nil {
		return errExit(err)
	}

	fmt.Printf("batch %s: %s, %d ok / %d failed of %d",
		resp.ID, resp.Status, resp.SuccessCount, resp.FailureCount, len(resp.MachineIDs))
	if resp.LLMCostUSD > 0 {
		fmt.Printf(", llm cost $%.4f", resp.LLMCostUSD)
	}
	fmt.Println()
	for _, r := range resp.Results {
		if r.Success {
			note := ""
			if r.RequiresApproval {
				note = " [needs approval]"
			}
			fmt.Printf("  %s: %s (tier %s)%s\n", r.MachineID, formatPrice(r.Price), r.Tier, note)
		} else {
			fmt.Printf("  %s: FAILED %s\n", r.MachineID, r.Error)
		}
	}
	if resp.Status == "failed" {
		return exitFailed
	}
	return exitOK
}

func (c *client) approve(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: pricewatchctl approve <history_id> APPROVE|REJECT")
		return exitFailed
	}
	decision := strings.ToUpper(args[1])
	if decision != "APPROVE" && decision != "REJECT" {
		fmt.Fprintln(os.Stderr, "decision must be APPROVE or REJECT")
		return exitFailed
	}

	body := map[string]string{"decision": decision}
	var resp struct {
		MachineID string   `json:"machine_id"`
		Price     *float64 `json:"price"`
	}
	if err := c.do(http.MethodPost, "/api/v1/approval/"+args[0], body, &resp); err != nil {
		return errExit(err)
	}

	if decision == "APPROVE" {
		fmt.Printf("approved: machine %s price %s\n", resp.MachineID, formatPrice(resp.Price))
	} else {
		fmt.Printf("rejected: machine %s unchanged\n", resp.MachineID)
	}
	return exitOK
}

func formatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/davidahmann/approvalflow/internal/policy"
	"github.com/davidahmann/approvalflow/pkg/types"
)

const defaultAddr = "http://localhost:8080"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "inbox":
		return handleInbox(args[2:], stdout, stderr)
	case "history":
		return handleHistory(args[2:], stdout, stderr)
	case "decide":
		return handleDecide(args[2:], stdout, stderr)
	case "assist":
		return handleAssist(args[2:], stdout, stderr)
	case "policy":
		return handlePolicy(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func handleInbox(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("inbox", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("APPROVALFLOW_ADDR", defaultAddr), "gateway address")
	token := fs.String("token", envOrDefault("APPROVALFLOW_TOKEN", os.Getenv("APPROVALFLOW_DEV_TOKEN")), "bearer token")
	assignee := fs.String("assignee", "", "filter by assignee user id")
	escalated := fs.Bool("escalated", false, "only escalated decisions")
	jsonOut := fs.Bool("json", false, "print raw JSON response")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	query := url.Values{}
	if *assignee != "" {
		query.Set("assignee", *assignee)
	}
	if *escalated {
		query.Set("escalated", "true")
	}
	target := *addr + "/v1/decisions/inbox"
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	body, status, err := httpDo(http.DefaultClient, http.MethodGet, target, *token, nil)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "inbox failed: %s\n", strings.TrimSpace(string(body)))
		return 1
	}
	if *jsonOut {
		_, _ = stdout.Write(body)
		return 0
	}

	var payload struct {
		Decisions []types.Decision `json:"decisions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	for _, d := range payload.Decisions {
		escalatedMark := ""
		if d.IsEscalated {
			escalatedMark = " ESCALATED"
		}
		fmt.Fprintf(stdout, "%s %s %s step %d/%d %s sla=%s age=%.1fh%s\n",
			d.DecisionID, d.DecisionType, d.EntityName, d.CurrentStepOrder, d.TotalSteps,
			d.Status, d.SLAStatus, d.RequestedAgeHours, escalatedMark)
	}
	fmt.Fprintf(stdout, "%d open decisions\n", len(payload.Decisions))
	return 0
}

func handleHistory(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("APPROVALFLOW_ADDR", defaultAddr), "gateway address")
	token := fs.String("token", envOrDefault("APPROVALFLOW_TOKEN", os.Getenv("APPROVALFLOW_DEV_TOKEN")), "bearer token")
	action := fs.String("action", "", "filter by action")
	search := fs.String("search", "", "free-text search over entity and actor names")
	take := fs.Int("take", 0, "max entries")
	jsonOut := fs.Bool("json", false, "print raw JSON response")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	query := url.Values{}
	if *action != "" {
		query.Set("action", *action)
	}
	if *search != "" {
		query.Set("search", *search)
	}
	if *take > 0 {
		query.Set("take", fmt.Sprintf("%d", *take))
	}
	if fs.NArg() == 1 {
		query.Set("decision_id", fs.Arg(0))
	}
	target := *addr + "/v1/decisions/history"
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	body, status, err := httpDo(http.DefaultClient, http.MethodGet, target, *token, nil)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "history failed: %s\n", strings.TrimSpace(string(body)))
		return 1
	}
	if *jsonOut {
		_, _ = stdout.Write(body)
		return 0
	}

	var payload struct {
		Entries []types.HistoryEntry `json:"entries"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	for _, e := range payload.Entries {
		fmt.Fprintf(stdout, "%s %s %s %s by %s %s\n",
			e.ActionAt.Format(time.RFC3339), e.Action, e.EntityName, e.Status, e.ActorName, e.Notes)
	}
	return 0
}

func handleDecide(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("APPROVALFLOW_ADDR", defaultAddr), "gateway address")
	token := fs.String("token", envOrDefault("APPROVALFLOW_TOKEN", os.Getenv("APPROVALFLOW_DEV_TOKEN")), "bearer token")
	approve := fs.Bool("approve", false, "approve the current step")
	reject := fs.Bool("reject", false, "reject the current step")
	notes := fs.String("notes", "", "decision notes")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "decide requires <decision_id>")
		fs.Usage()
		return 2
	}
	if *approve == *reject {
		fmt.Fprintln(stderr, "exactly one of --approve or --reject is required")
		return 2
	}

	payload, err := json.Marshal(map[string]any{"approved": *approve, "notes": *notes})
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	target := *addr + "/v1/decisions/" + fs.Arg(0) + "/decide"
	body, status, err := httpDo(http.DefaultClient, http.MethodPatch, target, *token, payload)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "decide failed: %s\n", strings.TrimSpace(string(body)))
		return 1
	}

	var d types.Decision
	if err := json.Unmarshal(body, &d); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s status=%s step=%d/%d\n", d.DecisionID, d.Status, d.CurrentStepOrder, d.TotalSteps)
	return 0
}

func handleAssist(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("assist", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("APPROVALFLOW_ADDR", defaultAddr), "gateway address")
	token := fs.String("token", envOrDefault("APPROVALFLOW_TOKEN", os.Getenv("APPROVALFLOW_DEV_TOKEN")), "bearer token")
	jsonOut := fs.Bool("json", false, "print raw JSON response")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "assist requires <decision_id>")
		fs.Usage()
		return 2
	}

	target := *addr + "/v1/decisions/" + fs.Arg(0) + "/assist-draft"
	body, status, err := httpDo(http.DefaultClient, http.MethodPost, target, *token, nil)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "assist failed: %s\n", strings.TrimSpace(string(body)))
		return 1
	}
	if *jsonOut {
		_, _ = stdout.Write(body)
		return 0
	}

	var draft types.AssistDraft
	if err := json.Unmarshal(body, &draft); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	fmt.Fprintln(stdout, draft.Summary)
	fmt.Fprintln(stdout, "recommended:", draft.RecommendedAction)
	for _, item := range draft.MissingEvidence {
		fmt.Fprintln(stdout, "missing:", item)
	}
	fmt.Fprintln(stdout, draft.Disclaimer)
	return 0
}

func handlePolicy(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	switch args[0] {
	case "lint":
		fs := flag.NewFlagSet("policy lint", flag.ContinueOnError)
		fs.SetOutput(stderr)
		if err := fs.Parse(args[1:]); err != nil {
			fs.Usage()
			return 2
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, "policy lint requires <policy_path>")
			fs.Usage()
			return 2
		}
		loaded, err := policy.LoadPolicy(fs.Arg(0))
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 1
		}
		if loaded.Policy.Defaults.ApprovalAmountThreshold > 0 && loaded.Policy.Defaults.ApproverRole == "" {
			fmt.Fprintln(stderr, "approver_role must be configured when a threshold is set")
			return 1
		}
		fmt.Fprintf(stdout, "ok policy_id=%s policy_hash=%s\n", loaded.Policy.PolicyID, loaded.Hash)
		return 0
	default:
		usage(stderr)
		return 2
	}
}

func httpDo(client *http.Client, method string, target string, token string, payload []byte) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, target, reqBody)
	if err != nil {
		return nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func usage(w io.Writer) {
	fmt.Fprint(w, `ApprovalFlow CLI

Usage:
  approvalflow inbox [--assignee USER] [--escalated] [--addr URL] [--json] [--token TOKEN]
  approvalflow history [decision_id] [--action ACTION] [--search TEXT] [--take N]
  approvalflow decide <decision_id> (--approve | --reject) [--notes TEXT]
  approvalflow assist <decision_id> [--json]
  approvalflow policy lint <policy_path>
`)
}

// simctl is the operator CLI for the orchestrator API: submit simulations,
// poll their status, fetch results, cancel tasks and read stats.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tinix84/pyplecs-sub000/pkg/simapi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "submit":
		runSubmit(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "result":
		runResult(os.Args[2:])
	case "cancel":
		runCancel(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "cache":
		runCache(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: simctl <submit|status|result|cancel|stats|cache> [...]")
}

type paramFlags map[string]any

func (p paramFlags) String() string { return fmt.Sprintf("%v", map[string]any(p)) }

// Set parses k=v pairs; values parse as number, bool, then string.
func (p paramFlags) Set(raw string) error {
	kv := strings.SplitN(raw, "=", 2)
	if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
		return fmt.Errorf("parameter %q is not k=v", raw)
	}
	k := strings.TrimSpace(kv[0])
	v := strings.TrimSpace(kv[1])
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		p[k] = f
		return nil
	}
	if b, err := strconv.ParseBool(v); err == nil {
		p[k] = b
		return nil
	}
	p[k] = v
	return nil
}

func runSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	url := fs.String("url", "http://127.0.0.1:8080", "orchestrator base URL")
	token := fs.String("token", "", "API token")
	model := fs.String("model", "", "path to model file")
	version := fs.String("engine-version", "", "target engine version")
	priority := fs.String("priority", "normal", "critical|high|normal|low")
	wait := fs.Bool("wait", false, "block until the task is terminal")
	params := paramFlags{}
	fs.Var(params, "param", "parameter as k=v, repeatable")
	_ = fs.Parse(args)

	if *model == "" || *version == "" {
		fatalf("submit requires -model and -engine-version")
	}
	content, err := os.ReadFile(*model)
	if err != nil {
		fatalf("read model: %v", err)
	}
	name := filepath.Base(*model)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	req := simapi.SubmitTaskRequest{
		Model:         name,
		Content:       base64.StdEncoding.EncodeToString(content),
		EngineVersion: *version,
		Parameters:    params,
		Priority:      *priority,
	}
	var resp simapi.SubmitTaskResponse
	doJSON(*url+"/v1/tasks", http.MethodPost, *token, req, &resp)
	fmt.Println(resp.TaskID)

	if *wait {
		waitTerminal(*url, *token, resp.TaskID)
	}
}

func waitTerminal(url, token, id string) {
	for {
		var st simapi.TaskStatusResponse
		doJSON(url+"/v1/tasks/"+id, http.MethodGet, token, nil, &st)
		switch st.Status {
		case "Completed":
			return
		case "Failed":
			fatalf("task failed after %d retries: %s", st.RetryCount, st.Error)
		case "Cancelled":
			fatalf("task cancelled")
		}
		time.Sleep(time.Second)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	url := fs.String("url", "http://127.0.0.1:8080", "orchestrator base URL")
	token := fs.String("token", "", "API token")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fatalf("usage: simctl status <task-id>")
	}
	var st simapi.TaskStatusResponse
	doJSON(*url+"/v1/tasks/"+fs.Arg(0), http.MethodGet, *token, nil, &st)
	printJSON(st)
}

func runResult(args []string) {
	fs := flag.NewFlagSet("result", flag.ExitOnError)
	url := fs.String("url", "http://127.0.0.1:8080", "orchestrator base URL")
	token := fs.String("token", "", "API token")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fatalf("usage: simctl result <task-id>")
	}
	var res simapi.TaskResultResponse
	doJSON(*url+"/v1/tasks/"+fs.Arg(0)+"/result", http.MethodGet, *token, nil, &res)
	printJSON(res)
}

func runCancel(args []string) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	url := fs.String("url", "http://127.0.0.1:8080", "orchestrator base URL")
	token := fs.String("token", "", "API token")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fatalf("usage: simctl cancel <task-id>")
	}
	var resp simapi.CancelTaskResponse
	doJSON(*url+"/v1/tasks/"+fs.Arg(0)+"/cancel", http.MethodPost, *token, nil, &resp)
	printJSON(resp)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://127.0.0.1:8080", "orchestrator base URL")
	token := fs.String("token", "", "API token")
	_ = fs.Parse(args)
	var st simapi.StatsResponse
	doJSON(*url+"/v1/stats", http.MethodGet, *token, nil, &st)
	printJSON(st)
}

func runCache(args []string) {
	if len(args) < 1 {
		fatalf("usage: simctl cache <stats|evict> [...]")
	}
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	url := fs.String("url", "http://127.0.0.1:8080", "orchestrator base URL")
	token := fs.String("token", "", "API token")
	_ = fs.Parse(args[1:])
	switch args[0] {
	case "stats":
		var st simapi.CacheStatsResponse
		doJSON(*url+"/v1/cache/stats", http.MethodGet, *token, nil, &st)
		printJSON(st)
	case "evict":
		var ev simapi.EvictCacheResponse
		doJSON(*url+"/v1/admin/cache/evict", http.MethodPost, *token, nil, &ev)
		printJSON(ev)
	default:
		fatalf("usage: simctl cache <stats|evict> [...]")
	}
}

func doJSON(url, method, token string, body, out any) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			fatalf("encode request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr simapi.ErrorResponse
		msg := resp.Status
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		fatalf("%s %s: %s", method, url, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatalf("decode response: %v", err)
		}
	}
}

func printJSON(v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatalf("encode output: %v", err)
	}
	fmt.Println(string(raw))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

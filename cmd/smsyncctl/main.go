package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/finly/smsync/internal/appdir"
	"github.com/finly/smsync/internal/config"
	"github.com/finly/smsync/internal/httpapi"
	"github.com/finly/smsync/internal/lookback"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon control address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr := *addrFlag
	if addr == "" {
		cfg, err := config.Load(appdir.ConfigPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		addr = cfg.Daemon.ListenAddr
	}
	c := &ctl{
		base: "http://" + addr,
		// Syncs block until the scan completes.
		http: &http.Client{Timeout: 5 * time.Minute},
	}

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "imports":
		limit := 0
		if len(args) >= 2 {
			if _, err := fmt.Sscanf(args[1], "%d", &limit); err != nil {
				fmt.Fprintln(os.Stderr, "usage: smsyncctl imports [limit]")
				os.Exit(1)
			}
		}
		cmdImports(c, limit, *jsonFlag)
	case "sync":
		mode := string(lookback.ModeManual)
		if len(args) >= 2 {
			mode = args[1]
		}
		cmdSync(c, mode, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: smsyncctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status            Show engine status")
	fmt.Fprintln(os.Stderr, "  imports [limit]   List recently imported transactions")
	fmt.Fprintln(os.Stderr, "  sync [mode]       Run a historical scan (signup|login|manual|live)")
}

type ctl struct {
	base string
	http *http.Client
}

func (c *ctl) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	return decode(resp, out)
}

func (c *ctl) post(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

func cmdStatus(c *ctl, jsonOut bool) {
	var resp httpapi.StatusResponse
	if err := c.get("/v1/status", &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("State:        %s\n", resp.State)
	fmt.Printf("Subscribers:  %d\n", resp.Subscribers)
	if resp.Watermark > 0 {
		fmt.Printf("Watermark:    %s\n", time.UnixMilli(resp.Watermark).Format(time.RFC3339))
	} else {
		fmt.Printf("Watermark:    never synced\n")
	}
	fmt.Printf("Imports:      %d\n", resp.ImportsTotal)
}

func cmdImports(c *ctl, limit int, jsonOut bool) {
	path := "/v1/imports"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var resp []httpapi.Import
	if err := c.get(path, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp) == 0 {
		fmt.Println("No imported transactions.")
		return
	}
	for _, imp := range resp {
		desc := imp.Description
		if len(desc) > 48 {
			desc = desc[:45] + "..."
		}
		fmt.Printf("%s  %-6s  %10.2f  %s\n",
			time.UnixMilli(imp.CreatedAt).Format("2006-01-02 15:04"),
			imp.TxnType, imp.Amount, desc)
	}
}

func cmdSync(c *ctl, mode string, jsonOut bool) {
	if !lookback.Valid(lookback.Mode(mode)) {
		fmt.Fprintf(os.Stderr, "error: unknown mode %q (signup|login|manual|live)\n", mode)
		os.Exit(1)
	}
	var resp httpapi.SyncResponse
	if err := c.post("/v1/sync", httpapi.SyncRequest{Mode: mode}, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Imported %d transaction(s).\n", resp.Imported)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

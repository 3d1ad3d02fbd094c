package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type saveResult struct {
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	Tick          uint64 `json:"tick"`
	CachedRegions int    `json:"cached_regions"`
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	status, body, err := adminCall(http.MethodGet, *baseURL, "/admin/v1/state", 5*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	fmt.Println(strings.TrimSpace(string(body)))
	if status/100 != 2 {
		os.Exit(1)
	}
}

func saveCmd(args []string) {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	status, body, err := adminCall(http.MethodPost, *baseURL, "/admin/v1/save", 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	var res saveResult
	if err := json.Unmarshal(body, &res); err != nil {
		fmt.Fprintf(os.Stderr, "save: status %d: %s\n", status, strings.TrimSpace(string(body)))
		os.Exit(1)
	}
	if !res.OK || status/100 != 2 {
		fmt.Fprintf(os.Stderr, "save failed: %s\n", res.Error)
		os.Exit(1)
	}
	fmt.Printf("save ok: tick=%d cached_regions=%d\n", res.Tick, res.CachedRegions)
}

func adminCall(method, baseURL, path string, timeout time.Duration) (int, []byte, error) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

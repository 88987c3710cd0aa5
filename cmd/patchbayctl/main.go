/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// patchbayctl is the operator CLI against a running patchbayd's HTTP API:
// list ports and connections, inspect the compiled run-list and latency
// figures, make or break connections, and dump/restore the connection
// graph as YAML for scripted setup.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	apiURL  string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "patchbayctl",
	Short: "Inspect and control a running patchbayd instance",
	Long: `patchbayctl talks to patchbayd's HTTP API to list ports and
connections, inspect the compiled run-list and per-port latency, make or
break connections, and snapshot the whole connection graph as YAML.

Examples:
  patchbayctl ports
  patchbayctl connect synth:out_1 mixer:in_1
  patchbayctl graph dump > graph.yaml
  patchbayctl graph import graph.yaml`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://127.0.0.1:8080", "patchbayd API base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP request timeout")

	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(runlistCmd)
	rootCmd.AddCommand(latencyCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(graphCmd)

	graphCmd.AddCommand(graphDumpCmd)
	graphCmd.AddCommand(graphImportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func client() *http.Client {
	return &http.Client{Timeout: timeout}
}

func get(path string, out any) error {
	resp, err := client().Get(apiURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func post(path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := client().Post(apiURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(resp.Body)
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type portView struct {
	Name       string `json:"name" yaml:"name"`
	Client     string `json:"client" yaml:"client"`
	Type       string `json:"type" yaml:"type"`
	Input      bool   `json:"input" yaml:"input"`
	Output     bool   `json:"output" yaml:"output"`
	Physical   bool   `json:"physical" yaml:"physical"`
	Terminal   bool   `json:"terminal" yaml:"terminal"`
	CanMonitor bool   `json:"can_monitor" yaml:"can_monitor"`
	Latency    int    `json:"latency" yaml:"latency"`
	LockedBy   string `json:"locked_by,omitempty" yaml:"locked_by,omitempty"`
}

type connectionView struct {
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
}

type runListEntryView struct {
	Client  string   `json:"client" yaml:"client"`
	Inputs  []string `json:"inputs" yaml:"inputs"`
	Outputs []string `json:"outputs" yaml:"outputs"`
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List every registered port",
	RunE: func(cmd *cobra.Command, args []string) error {
		var ports []portView
		if err := get("/ports", &ports); err != nil {
			return err
		}
		for _, p := range ports {
			dir := "in"
			if p.Output {
				dir = "out"
			}
			fmt.Printf("%-40s %-6s %-8s %s\n", p.Name, dir, p.Type, p.Client)
		}
		return nil
	},
}

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List every live connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		var conns []connectionView
		if err := get("/connections", &conns); err != nil {
			return err
		}
		for _, c := range conns {
			fmt.Printf("%s -> %s\n", c.Source, c.Destination)
		}
		return nil
	},
}

var runlistCmd = &cobra.Command{
	Use:   "runlist",
	Short: "Show the compiled client execution order",
	RunE: func(cmd *cobra.Command, args []string) error {
		var runlist []runListEntryView
		if err := get("/runlist", &runlist); err != nil {
			return err
		}
		for i, entry := range runlist {
			fmt.Printf("%2d. %s\n", i+1, entry.Client)
		}
		return nil
	},
}

var latencyCmd = &cobra.Command{
	Use:   "latency <client:port>",
	Short: "Show the compiled end-to-end latency for one port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Latency int `json:"latency"`
		}
		if err := get("/latency/"+args[0], &result); err != nil {
			return err
		}
		fmt.Printf("%d frames\n", result.Latency)
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <source> <destination>",
	Short: "Connect two ports by fully qualified name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]string
		req := map[string]string{"source": args[0], "destination": args[1]}
		if err := post("/connect", req, &result); err != nil {
			return err
		}
		fmt.Println(result["status"])
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <source> <destination>",
	Short: "Disconnect two ports by fully qualified name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]string
		req := map[string]string{"source": args[0], "destination": args[1]}
		if err := post("/disconnect", req, &result); err != nil {
			return err
		}
		fmt.Println(result["status"])
		return nil
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Dump or restore the connection graph",
}

var graphDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write every live connection as YAML to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		var conns []connectionView
		if err := get("/connections", &conns); err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(map[string][]connectionView{"connections": conns})
	},
}

var graphImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Connect every pair listed in a graph dump, ignoring ones already made",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		var doc struct {
			Connections []connectionView `yaml:"connections"`
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}
		for _, c := range doc.Connections {
			var result map[string]string
			req := map[string]string{"source": c.Source, "destination": c.Destination}
			if err := post("/connect", req, &result); err != nil {
				fmt.Fprintf(os.Stderr, "skip %s -> %s: %v\n", c.Source, c.Destination, err)
				continue
			}
			fmt.Printf("%s -> %s: %s\n", c.Source, c.Destination, result["status"])
		}
		return nil
	},
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/mcp"
	"github.com/jobscan/jobscan/pkg/storage"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: jobscan mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  jobscan mcp-server -config config.yaml

  # Start with SSE transport on port 8080
  jobscan mcp-server -config config.yaml -transport sse -port 8080

Available MCP Tools:
  list_sources     List configured sources and their last scan
  scan_all         Start a background scan of every enabled source
  scan_source      Start a background scan of one source
  get_scan_status  Get the status and report of a scan job
  preview_source   Show what a scan of one source would do, without writing
  search_records   Search stored job records
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *port, *logLevel, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport string, port int, logLevel string, stderr io.Writer) int {
	if transport != "stdio" && transport != "sse" {
		fmt.Fprintf(stderr, "Unknown transport: %s (supported: stdio, sse)\n", transport)
		return 1
	}

	// MCP protocol uses stdout, logs go to stderr
	log := logrus.New()
	log.SetOutput(stderr)
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", logLevel)
		return 1
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, stateMgr, err := openEngine(ctx, appCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating scan engine: %v\n", err)
		return 1
	}
	defer engine.Close()

	serverCfg := &mcp.ServerConfig{
		Scanner:    engine,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		AfterScan: func() {
			if err := stateMgr.Save(); err != nil {
				log.Errorf("Failed to save scan state: %v", err)
			}
		},
	}
	if admin, ok := engine.Store().(storage.StoreAdmin); ok {
		serverCfg.Records = admin
	}

	server, err := mcp.NewServer(serverCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}
	defer server.Shutdown(ctx)

	log.Infof("Starting MCP server (transport: %s)", transport)

	if err := server.Run(); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}

	return 0
}

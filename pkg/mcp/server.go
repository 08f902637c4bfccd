package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/orchestrate"
	"github.com/jobscan/jobscan/pkg/storage"
)

const (
	serverName    = "jobscan"
	serverVersion = "1.0.0"
)

// Scanner is the engine surface exposed over MCP. *orchestrate.Engine implements it.
type Scanner interface {
	ScanAll(ctx context.Context) (*models.ScanReport, error)
	ScanOne(ctx context.Context, sourceID string) (*models.ScanOutcome, error)
	Preview(ctx context.Context, sourceID string) ([]orchestrate.PreviewItem, error)
	Sources() []models.Source
}

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	Scanner    Scanner
	Records    storage.StoreAdmin // optional, enables search_records
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger

	// AfterScan runs once a background scan finishes, e.g. to persist watch state.
	AfterScan func()
}

// Server wraps the MCP server with the scan engine's tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	registered := 0
	add := func(tool mcp.Tool, handler server.ToolHandlerFunc) {
		s.mcpServer.AddTool(tool, handler)
		registered++
	}

	add(mcp.NewTool("list_sources",
		mcp.WithDescription("List all configured job sources with their last successful scan"),
	), s.handleListSources)

	add(mcp.NewTool("scan_all",
		mcp.WithDescription("Start a background scan of every enabled source. Returns immediately with a job ID."),
	), s.handleScanAll)

	add(mcp.NewTool("scan_source",
		mcp.WithDescription("Start a background scan of one source. Returns immediately with a job ID."),
		mcp.WithString("source_id",
			mcp.Required(),
			mcp.Description("Source id from the config file"),
		),
	), s.handleScanSource)

	add(mcp.NewTool("get_scan_status",
		mcp.WithDescription("Get the status and result of a scan job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by scan_all or scan_source"),
		),
	), s.handleGetScanStatus)

	add(mcp.NewTool("preview_source",
		mcp.WithDescription("Fetch and extract one source and show what a scan would create, update or skip, without writing"),
		mcp.WithString("source_id",
			mcp.Required(),
			mcp.Description("Source id from the config file"),
		),
	), s.handlePreviewSource)

	if s.cfg.Records != nil {
		add(mcp.NewTool("search_records",
			mcp.WithDescription("Search stored job records using text matching"),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Search query (case-insensitive substring match)"),
			),
			mcp.WithString("source_id",
				mcp.Description("Limit search to one source (optional)"),
			),
			mcp.WithNumber("max_results",
				mcp.Description("Maximum number of results to return (default: 10, max: 100)"),
			),
		), s.handleSearchRecords)
	}

	s.log.Infof("Registered %d MCP tools", registered)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running scan jobs
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	return nil
}

// Command harvest-mcp exposes a running harvest API to MCP clients over stdio.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// errorResponse mirrors the harvest API error body.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
	Code    string `json:"code"`
}

// reportResponse mirrors the harvest /run-report body.
type reportResponse struct {
	Count    int               `json:"count"`
	Listings []json.RawMessage `json:"listings"`
}

// apiClient calls the harvest HTTP API.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(baseURL, apiKey string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// A harvest runs up to maxAttempts × attempt timeout plus delays.
		http: &http.Client{Timeout: 6 * time.Minute},
	}
}

// get performs a GET and returns the body, or an error carrying the API's
// error code and details for non-200 responses.
func (c *apiClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			return nil, fmt.Errorf("[%s] %s: %s", apiErr.Code, apiErr.Error, apiErr.Details)
		}
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return body, nil
}

func maxAgeQuery(request mcp.CallToolRequest) url.Values {
	q := url.Values{}
	if ms := request.GetInt("max_age", 0); ms > 0 {
		q.Set("max_age", strconv.Itoa(ms))
	}
	return q
}

func handleRunScrape(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, err := c.get(ctx, "/run-scrape", maxAgeQuery(request))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

func handleListingReport(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, err := c.get(ctx, "/run-report", maxAgeQuery(request))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var rep reportResponse
		if err := json.Unmarshal(body, &rep); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if limit := request.GetInt("limit", 0); limit > 0 && limit < len(rep.Listings) {
			rep.Listings = rep.Listings[:limit]
		}

		out, err := json.MarshalIndent(rep.Listings, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode listings: %v", err)), nil
		}
		header := fmt.Sprintf("Listings: %d (showing %d)\n\n", rep.Count, len(rep.Listings))
		return mcp.NewToolResultText(header + string(out)), nil
	}
}

func newServer(c *apiClient) *server.MCPServer {
	s := server.NewMCPServer(
		"harvest",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	runScrapeTool := mcp.NewTool("run_scrape",
		mcp.WithDescription("Load the listings map in a headless browser and return the raw listings search JSON payload the page receives. Takes from seconds up to several minutes."),
		mcp.WithNumber("max_age",
			mcp.Description("Accept a cached payload up to this many milliseconds old (default: 0, always harvest)"),
		),
	)
	s.AddTool(runScrapeTool, handleRunScrape(c))

	reportTool := mcp.NewTool("listing_report",
		mcp.WithDescription("Harvest the listings and return one flattened record per listing: address, link, price, building type, size, realtor and brokerage contacts."),
		mcp.WithNumber("max_age",
			mcp.Description("Accept a cached payload up to this many milliseconds old (default: 0, always harvest)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Return at most this many listings (default: all)"),
		),
	)
	s.AddTool(reportTool, handleListingReport(c))

	return s
}

func main() {
	apiURL := os.Getenv("HARVEST_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:3001"
	}

	s := newServer(newAPIClient(apiURL, os.Getenv("HARVEST_API_KEY")))
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

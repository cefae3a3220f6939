package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Services  struct {
		Database struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		} `json:"database"`
		Cache struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		} `json:"cache"`
		Executor struct {
			InFlight int `json:"inFlight"`
			Capacity int `json:"capacity"`
		} `json:"executor"`
	} `json:"services"`
}

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	strict := flag.Bool("strict", false, "fail when the cache is degraded")
	flag.Parse()

	url := "http://localhost:8080/health"
	if flag.NArg() > 0 {
		url = flag.Arg(0)
	}

	fmt.Printf("🔍 Probing %s\n", url)

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("❌ Error connecting to health endpoint: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("❌ Error reading response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("📊 Response Status: %s\n", resp.Status)

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		fmt.Printf("❌ Error parsing JSON response: %v\n", err)
		fmt.Printf("📄 Response Body: %s\n", string(body))
		os.Exit(1)
	}

	if resp.StatusCode != http.StatusOK || health.Services.Database.Status != "healthy" {
		fmt.Printf("❌ Health check failed: %s\n", health.Status)
		if health.Services.Database.Error != "" {
			fmt.Printf("   Database error: %s\n", health.Services.Database.Error)
		}
		os.Exit(1)
	}

	if health.Status == "degraded" {
		fmt.Printf("⚠️  Cache degraded: %s\n", health.Services.Cache.Error)
		if *strict {
			os.Exit(2)
		}
	}

	fmt.Printf("✅ Health check passed!\n")
	fmt.Printf("   Status: %s\n", health.Status)
	fmt.Printf("   Version: %s\n", health.Version)
	fmt.Printf("   Database: %s\n", health.Services.Database.Status)
	fmt.Printf("   Cache: %s\n", health.Services.Cache.Status)
	fmt.Printf("   Workers busy: %d/%d\n", health.Services.Executor.InFlight, health.Services.Executor.Capacity)
	fmt.Printf("   Timestamp: %s\n", health.Timestamp)
}

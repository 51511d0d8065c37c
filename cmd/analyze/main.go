package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ozoneai/ozone/internal/analysis"
	"github.com/ozoneai/ozone/internal/logger"
)

func main() {
	var (
		endpoint = flag.String("endpoint", "", "Analysis server WebSocket URL (default $ANALYSIS_WS_URL or "+analysis.DefaultEndpoint+")")
		neo4j    = flag.Bool("neo4j", false, "Ask the backend to store the analysis in Neo4j")
		asJSON   = flag.Bool("json", false, "Print the final snapshot as JSON instead of the log")
		timeout  = flag.Duration("timeout", 5*time.Minute, "Give up after this long")
		verbose  = flag.Bool("v", false, "Log session internals to stderr")
		showHelp = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if *showHelp || query == "" {
		fmt.Println("Analyze a URL or text against the analysis server")
		fmt.Println("Usage: go run cmd/analyze/main.go [options] <url or text>")
		fmt.Println("")
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Println("  go run cmd/analyze/main.go https://example.com/article")
		fmt.Println("  go run cmd/analyze/main.go -json -timeout 2m \"the moon landing was staged\"")
		if query == "" && !*showHelp {
			os.Exit(2)
		}
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	if *endpoint == "" {
		*endpoint = os.Getenv("ANALYSIS_WS_URL")
	}

	level := "error"
	if *verbose {
		level = "debug"
	}
	logConfig := logger.FromConfig(level, "text")
	logConfig.Output = os.Stderr
	l := logger.New(logConfig)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	opts := []analysis.Option{
		analysis.WithLogger(l),
		analysis.WithStoreInNeo4j(*neo4j),
	}
	if *endpoint != "" {
		opts = append(opts, analysis.WithEndpoint(*endpoint))
	}
	session := analysis.NewSession(query, opts...)

	var (
		mu      sync.Mutex
		printed int
	)
	if !*asJSON {
		unsubscribe := session.Subscribe(func(snap analysis.Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			for ; printed < len(snap.Log); printed++ {
				fmt.Println(snap.Log[printed].String())
			}
		})
		defer unsubscribe()
	}

	if err := session.Start(ctx); err != nil {
		log.Fatalf("Failed to start analysis: %v", err)
	}

	select {
	case <-session.Done():
	case <-ctx.Done():
		session.Close()
	}

	snap := session.Snapshot()
	if *asJSON {
		out, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode snapshot: %v", err)
		}
		fmt.Println(string(out))
	} else {
		printVerdict(snap)
	}

	if snap.Outcome != analysis.OutcomeCompleted {
		os.Exit(1)
	}
}

func printVerdict(snap analysis.Snapshot) {
	fmt.Println("")
	fmt.Printf("Outcome: %s\n", snap.Outcome)
	if snap.Error != "" {
		fmt.Printf("Error:   %s\n", snap.Error)
	}
	if len(snap.Sources) > 0 {
		fmt.Printf("Sources: %d\n", len(snap.Sources))
	}

	report, err := snap.Result.Scan()
	if err != nil {
		if snap.Answer != "" {
			fmt.Println("")
			fmt.Println(snap.Answer)
		}
		return
	}

	v := report.FinalVerdict
	fmt.Printf("Verdict: %s", v.Label)
	if v.OverallScore != nil {
		fmt.Printf(" (score %.0f)", *v.OverallScore)
	}
	fmt.Println("")
	if v.SummaryStatement != "" {
		fmt.Println(v.SummaryStatement)
	}
	for _, c := range report.ContentAnalysis.Claims {
		fmt.Printf("  - [%s] %s\n", c.Status, c.Text)
	}
}

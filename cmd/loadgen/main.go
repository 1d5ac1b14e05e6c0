// Command loadgen drives synthetic traffic against a running gateway
// instance (SPEC_FULL.md §9). It is a plain HTTP client, started and
// run independently of the gateway process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/froggu-tantei/apigateway/simulator"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "gateway base URL")
	username := flag.String("username", "loadgen", "account username to authenticate as")
	password := flag.String("password", "loadgen-password", "account password")
	services := flag.String("services", "light,heavy", "comma-separated service names to exercise")
	clientsPerPlan := flag.Int("clients", 5, "number of surrogate clients to simulate per plan")
	requestsPerClient := flag.Int("requests", 20, "requests to issue per simulated client")
	concurrency := flag.Int("concurrency", 10, "maximum in-flight requests")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall run timeout")
	flag.Parse()

	cfg := simulator.Config{
		BaseURL:           strings.TrimRight(*baseURL, "/"),
		Username:          *username,
		Password:          *password,
		Services:          strings.Split(*services, ","),
		ClientsPerPlan:    *clientsPerPlan,
		RequestsPerClient: *requestsPerClient,
		Concurrency:       *concurrency,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner := simulator.New(cfg)
	result, err := runner.Run(ctx)
	if err != nil {
		log.Fatalf("loadgen: run failed: %v", err)
	}

	log.Printf("requests=%d allowed=%d denied=%d errors=%d",
		result.Requests, result.Allowed, result.Denied, result.Errors)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("loadgen: encoding result: %v", err)
	}
}

// rsvp_burst fires concurrent reservation requests at one event and checks
// that the admitted seats never exceed the event's capacity.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type burstResult struct {
	status   int
	code     string
	seats    int
	duration time.Duration
	err      error
}

type apiResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Errors struct {
		Code string `json:"code"`
	} `json:"errors"`
}

type availability struct {
	Capacity       int `json:"capacity"`
	ReservedSeats  int `json:"reserved_seats"`
	AvailableSeats int `json:"available_seats"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080/api/v1", "API base URL")
	eventID := flag.String("event", "", "event id to reserve against (required)")
	tokens := flag.String("tokens", os.Getenv("RSVP_TOKENS"), "comma separated bearer tokens, used round robin")
	requests := flag.Int("n", 50, "number of concurrent requests")
	seats := flag.Int("seats", 1, "seats per request")
	withKeys := flag.Bool("idempotency", true, "send a unique Idempotency-Key with each request")
	flag.Parse()

	if *eventID == "" || *tokens == "" {
		flag.Usage()
		os.Exit(2)
	}
	tokenList := strings.Split(*tokens, ",")

	client := &http.Client{Timeout: 30 * time.Second}

	before, err := fetchAvailability(client, *baseURL, *eventID)
	if err != nil {
		log.Fatalf("❌ Failed to read availability: %v", err)
	}
	fmt.Printf("🎫 Event %s: capacity %d, reserved %d, available %d\n",
		*eventID, before.Capacity, before.ReservedSeats, before.AvailableSeats)
	fmt.Printf("🚀 Firing %d concurrent requests for %d seat(s) each...\n", *requests, *seats)

	results := make([]burstResult, *requests)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < *requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			key := ""
			if *withKeys {
				key = uuid.NewString()
			}
			results[i] = reserve(client, *baseURL, *eventID, tokenList[i%len(tokenList)], *seats, key)
		}(i)
	}
	began := time.Now()
	close(start)
	wg.Wait()
	elapsed := time.Since(began)

	admittedSeats := 0
	byOutcome := map[string]int{}
	var latencies []time.Duration
	for _, r := range results {
		latencies = append(latencies, r.duration)
		switch {
		case r.err != nil:
			byOutcome["transport error"]++
		case r.status == http.StatusCreated:
			byOutcome["created"]++
			admittedSeats += r.seats
		default:
			byOutcome[fmt.Sprintf("%d %s", r.status, r.code)]++
		}
	}

	after, err := fetchAvailability(client, *baseURL, *eventID)
	if err != nil {
		log.Fatalf("❌ Failed to read availability: %v", err)
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("\n📊 Finished in %v (p50 %v, p99 %v)\n", elapsed, percentile(latencies, 0.50), percentile(latencies, 0.99))
	for outcome, n := range byOutcome {
		fmt.Printf("  %-28s %d\n", outcome, n)
	}
	fmt.Printf("  admitted seats               %d\n", admittedSeats)
	fmt.Printf("  reserved after               %d / %d\n", after.ReservedSeats, after.Capacity)

	if after.ReservedSeats > after.Capacity {
		fmt.Println("❌ OVERCOMMITTED")
		os.Exit(1)
	}
	if after.ReservedSeats != before.ReservedSeats+admittedSeats {
		fmt.Println("⚠️  Reserved total does not match admitted seats (other traffic, or a cached availability read)")
	}
	fmt.Println("✅ Capacity held")
}

func reserve(client *http.Client, baseURL, eventID, token string, seats int, idempotencyKey string) burstResult {
	body, _ := json.Marshal(map[string]int{"seat_count": seats})
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/events/%s/reservations", baseURL, eventID), bytes.NewReader(body))
	if err != nil {
		return burstResult{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return burstResult{err: err, duration: time.Since(started)}
	}
	defer resp.Body.Close()

	var parsed apiResponse
	_ = json.NewDecoder(resp.Body).Decode(&parsed)

	result := burstResult{status: resp.StatusCode, code: parsed.Errors.Code, duration: time.Since(started)}
	if resp.StatusCode == http.StatusCreated {
		var created struct {
			SeatCount int `json:"seat_count"`
		}
		if err := json.Unmarshal(parsed.Data, &created); err == nil {
			result.seats = created.SeatCount
		}
	}
	return result
}

func fetchAvailability(client *http.Client, baseURL, eventID string) (*availability, error) {
	resp, err := client.Get(fmt.Sprintf("%s/events/%s/availability", baseURL, eventID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	var a availability
	if err := json.Unmarshal(parsed.Data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx].Round(time.Millisecond)
}

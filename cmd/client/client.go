package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"
)

// Minimal command-line client for poking the gateway by hand. Speaks the
// newline-JSON wire directly; responses are echoed as they arrive.

type request struct {
	Type          string `json:"type"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	Symbol        string `json:"symbol,omitempty"`
	Side          string `json:"side,omitempty"`
	OrderType     string `json:"order_type,omitempty"`
	Price         string `json:"price,omitempty"`
	Quantity      string `json:"quantity,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	Depth         int    `json:"depth,omitempty"`
}

func main() {
	// CLI parameter parsing.
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the gateway")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'query']")

	// Order parameters.
	symbol := flag.String("symbol", "BTC/USD", "Symbol")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit', 'market', 'ioc' or 'fok'")
	price := flag.String("price", "", "Limit price (decimal string)")
	qtyStr := flag.String("qty", "1", "Quantity or comma-separated list (e.g. 1,2,0.5)")

	// Cancel and query parameters.
	orderID := flag.String("order-id", "", "Order id to cancel")
	depth := flag.Int("depth", 10, "Book depth to query")

	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to gateway at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", *serverAddr)

	// Echo responses as they arrive.
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fmt.Printf("<- %s\n", scanner.Text())
		}
	}()

	send := func(req request) {
		b, err := json.Marshal(req)
		if err != nil {
			log.Fatalf("Failed to marshal request: %v", err)
		}
		if _, err := conn.Write(append(b, '\n')); err != nil {
			log.Fatalf("Failed to send request: %v", err)
		}
		fmt.Printf("-> %s\n", b)
	}

	switch strings.ToLower(*action) {
	case "place":
		for i, q := range strings.Split(*qtyStr, ",") {
			send(request{
				Type:          "new_order",
				ClientOrderID: fmt.Sprintf("cli-%d-%d", os.Getpid(), i),
				Symbol:        *symbol,
				Side:          strings.ToLower(*sideStr),
				OrderType:     strings.ToLower(*typeStr),
				Price:         *price,
				Quantity:      strings.TrimSpace(q),
			})
		}

	case "cancel":
		if *orderID == "" {
			log.Fatal("Error: -order-id is required for cancellation")
		}
		send(request{Type: "cancel", Symbol: *symbol, OrderID: *orderID})

	case "query":
		send(request{Type: "query", Symbol: *symbol, Depth: *depth})

	default:
		log.Fatalf("Unknown action %q", *action)
	}

	// Give responses a moment to arrive before hanging up.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

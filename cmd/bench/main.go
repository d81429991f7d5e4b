// Command bench floods a node with Check datagrams from many synthetic peers
// and reports the send rate and the member count the node ends up with.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ryandielhenn/escalon/pkg/gossip"
)

func main() {
	target := flag.String("target", "127.0.0.1:65056", "gossip address of the node under test")
	status := flag.String("status", "", "status URL of the node, e.g. http://localhost:8080 (optional)")
	n := flag.IntP("count", "n", 100000, "datagrams to send")
	ids := flag.Int("ids", 1000, "distinct synthetic peer ids")
	conc := flag.IntP("concurrency", "c", 8, "sending sockets")
	flag.Parse()

	if err := checkFlags(*n, *ids, *conc); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	to, err := netip.ParseAddrPort(*target)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad --target:", err)
		os.Exit(2)
	}

	payloads := make([][]byte, *ids)
	for i := range payloads {
		b, err := gossip.Encode(gossip.NewCheck(gossip.NodeID(fmt.Sprintf("bench-%d", i)), &gossip.Load{Tasks: i % 16}))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		payloads[i] = b
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	start := time.Now()
	per := *n / *conc
	for w := 0; w < *conc; w++ {
		tr, err := gossip.ListenUDP(context.Background(), netip.IPv4Unspecified(), 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			defer tr.Close()
			errs := 0
			for i := 0; i < per; i++ {
				if err := tr.Send(payloads[(w*per+i)%len(payloads)], to); err != nil {
					errs++
				}
			}
			mu.Lock()
			failed += errs
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	dur := time.Since(start)
	sent := per * *conc
	fmt.Printf("Sent %d datagrams in %s (%.2f msg/s, %d failed)\n", sent, dur, float64(sent)/dur.Seconds(), failed)

	if *status != "" {
		time.Sleep(500 * time.Millisecond)
		members, err := memberCount(*status)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query status:", err)
			os.Exit(1)
		}
		fmt.Printf("Node reports %d members\n", members)
	}
}

func checkFlags(n, ids, conc int) error {
	switch {
	case n < 0:
		return fmt.Errorf("--count %d must not be negative", n)
	case ids <= 0:
		return fmt.Errorf("--ids %d must be positive", ids)
	case conc <= 0:
		return fmt.Errorf("--concurrency %d must be positive", conc)
	}
	return nil
}

func memberCount(base string) (int, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + "/info")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var info struct {
		Members int `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, err
	}
	return info.Members, nil
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/scoring"
)

// feed plays simulated matches point by point and streams the running set
// scores to the set-results topic
type feed struct {
	producer sarama.AsyncProducer
	topic    string
	interval time.Duration
	edge     float64
	live     bool
	done     chan struct{}
	sent     int64
}

func (f *feed) send(sub domain.SetSubmission) bool {
	data, err := json.Marshal(sub)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return true
	}

	msg := &sarama.ProducerMessage{
		Topic: f.topic,
		Key:   sarama.StringEncoder(sub.MatchID),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case f.producer.Input() <- msg:
		atomic.AddInt64(&f.sent, 1)
	case <-f.done:
		return false
	}

	select {
	case <-time.After(f.interval):
		return true
	case <-f.done:
		return false
	}
}

// playMatch streams one best-of match. Results of a match share a key so they
// stay ordered on a single partition.
func (f *feed) playMatch(matchID string, bestOf int) {
	toWin := (bestOf + 1) / 2
	wonA, wonB := 0, 0

	for set := 1; wonA < toWin && wonB < toWin; set++ {
		a, b := 0, 0
		for {
			if rand.Float64() < f.edge {
				a++
			} else {
				b++
			}

			outcome, err := scoring.DecideSet(a, b)
			if err != nil {
				log.Printf("Unexpected score %d-%d: %v", a, b, err)
				return
			}
			if !outcome.Decided() && !f.live {
				continue
			}

			if !f.send(domain.SetSubmission{MatchID: matchID, SetNumber: set, ScoreA: a, ScoreB: b}) {
				return
			}
			if outcome.Decided() {
				if outcome == scoring.AWins {
					wonA++
				} else {
					wonB++
				}
				fmt.Printf("  %s  set %d  %2d-%-2d  (%d-%d)\n", matchID, set, a, b, wonA, wonB)
				break
			}
		}
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "match-set-results", "Kafka topic")
	matches := flag.String("matches", "", "Match IDs to play (comma-separated)")
	bestOf := flag.Int("best-of", 5, "Sets per match")
	rate := flag.Int("rate", 5, "Messages per second per match")
	edge := flag.Float64("edge", 0.5, "Probability that player A wins a point")
	live := flag.Bool("live", false, "Send the running score after every point, not only finished sets")
	flag.Parse()

	if *matches == "" {
		log.Fatal("at least one match id is required (-matches)")
	}
	if *bestOf < 1 || *bestOf%2 == 0 {
		log.Fatalf("best-of must be a positive odd number, got %d", *bestOf)
	}
	if *rate < 1 {
		*rate = 1
	}
	matchIDs := strings.Split(*matches, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Scoreboard feed")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:   %s\n", *brokers)
	fmt.Printf("  Topic:     %s\n", *topic)
	fmt.Printf("  Matches:   %d (best of %d)\n", len(matchIDs), *bestOf)
	fmt.Printf("  Live:      %t\n", *live)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Flush.Frequency = 50 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var drain sync.WaitGroup

	drain.Add(1)
	go func() {
		defer drain.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	drain.Add(1)
	go func() {
		defer drain.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	f := &feed{
		producer: producer,
		topic:    *topic,
		interval: time.Second / time.Duration(*rate),
		edge:     *edge,
		live:     *live,
		done:     make(chan struct{}),
	}

	var players sync.WaitGroup
	for _, id := range matchIDs {
		id := strings.TrimSpace(id)
		if id == "" {
			continue
		}
		players.Add(1)
		go func() {
			defer players.Done()
			f.playMatch(id, *bestOf)
		}()
	}

	finished := make(chan struct{})
	go func() {
		players.Wait()
		close(finished)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\n\nShutting down...")
		close(f.done)
		<-finished
	case <-finished:
	}

	producer.AsyncClose()
	drain.Wait()
	fmt.Printf("\n✓ Completed. Queued: %d, Sent: %d, Errors: %d\n",
		atomic.LoadInt64(&f.sent),
		atomic.LoadInt64(&successCount),
		atomic.LoadInt64(&errorCount),
	)
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/celo-runner/internal/domain"
	"github.com/celo-runner/internal/game"
)

// randomRun builds a completed run within the simulated game's bounds
func randomRun(player string, stage int64, questions int64) domain.RunEvent {
	if stage == 0 {
		stage = rand.Int64N(domain.TotalStages) + 1
	}
	return domain.RunEvent{
		EventID:          uuid.New().String(),
		Player:           player,
		Stage:            stage,
		Score:            game.MinScore + rand.Int64N(game.MaxScore-game.MinScore),
		CoinsCollected:   game.MinCoins + rand.Int64N(game.MaxCoins-game.MinCoins),
		QuestionsCorrect: rand.Int64N(questions + 1),
		Timestamp:        time.Now().UTC(),
	}
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "celo-runner-runs", "Kafka topic")
	player := flag.String("player", "", "Wallet address the runs belong to")
	stage := flag.Int64("stage", 0, "Stage to play (0 = random)")
	count := flag.Int("count", 1, "Number of runs to publish (0 = until stopped)")
	runsPerSecond := flag.Int("rate", 1, "Runs per second")
	questions := flag.Int64("questions", 5, "Quiz questions per run")
	flag.Parse()

	if !common.IsHexAddress(*player) {
		log.Fatalf("A valid -player address is required")
	}
	if *stage < 0 || *stage > domain.TotalStages {
		log.Fatalf("Stage must be between 0 and %d", domain.TotalStages)
	}
	if *runsPerSecond < 1 {
		*runsPerSecond = 1
	}
	address := common.HexToAddress(*player).Hex()
	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Celo Runner Session Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Player:           %s\n", address)
	fmt.Printf("  Runs:             %d\n", *count)
	fmt.Printf("  Runs/sec:         %d\n", *runsPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	shutdown := func() {
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*runsPerSecond))
	defer ticker.Stop()

	published := 0
	for *count == 0 || published < *count {
		select {
		case <-sigChan:
			fmt.Println("\n\nShutting down...")
			shutdown()
			return

		case <-ticker.C:
			event := randomRun(address, *stage, *questions)
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("Failed to marshal run: %v", err)
				continue
			}

			// Keyed by player so one wallet's runs stay ordered
			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(event.Player),
				Value: sarama.ByteEncoder(data),
			}
			published++
			fmt.Printf("[%s] stage %d score %d coins %d quiz %d/%d (%s)\n",
				time.Now().Format("15:04:05"),
				event.Stage,
				event.Score,
				event.CoinsCollected,
				event.QuestionsCorrect,
				*questions,
				event.EventID,
			)
		}
	}

	shutdown()
}

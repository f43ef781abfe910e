package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/template-scoreboard/internal/domain"
)

var userPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func username(idx int) string {
	return fmt.Sprintf("%s%d", userPrefixes[idx%len(userPrefixes)], idx/len(userPrefixes)+1)
}

type loadOptions struct {
	users        int
	rate         int
	duration     time.Duration
	exampleRatio float64
}

func newLoadCmd() *cobra.Command {
	opts := loadOptions{}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Streams synthetic submissions and examples",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.users < 2 || opts.rate <= 0 {
				return fmt.Errorf("--users must be at least 2 and --rate positive")
			}
			return runLoad(opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.users, "users", 100, "Number of distinct users")
	flags.IntVar(&opts.rate, "rate", 10, "Requests per second")
	flags.DurationVar(&opts.duration, "duration", 0, "Duration to run (0 = until interrupted)")
	flags.Float64Var(&opts.exampleRatio, "example-ratio", 0.7, "Share of requests that are examples")

	return cmd
}

// generator builds requests; examples reuse templates of earlier submissions
type generator struct {
	opts      loadOptions
	templates []domain.TrackRequest
}

func (g *generator) next(now time.Time) domain.TrackRequest {
	owner := rand.Intn(g.opts.users)
	req := domain.TrackRequest{
		ItemID:      uuid.NewString(),
		Kind:        domain.KindSubmission,
		OwnerUserID: fmt.Sprintf("user-%d", owner),
		Username:    username(owner),
		CreatedAt:   now,
	}

	if len(g.templates) > 0 && rand.Float64() < g.opts.exampleRatio {
		tmpl := g.templates[rand.Intn(len(g.templates))]
		if tmpl.OwnerUserID != req.OwnerUserID {
			req.Kind = domain.KindExample
			req.CreatorUserID = tmpl.OwnerUserID
			req.CreatorName = tmpl.Username
			req.TemplateID = tmpl.ItemID
			req.Title = "example of " + tmpl.Title
			return req
		}
	}

	req.Title = fmt.Sprintf("template by %s", req.Username)
	g.templates = append(g.templates, req)
	return req
}

func runLoad(opts loadOptions) error {
	fmt.Printf("brokers=%s topic=%s users=%d rate=%d/s\n", brokers, topic, opts.users, opts.rate)

	config := producerConfig()
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100

	producer, err := sarama.NewAsyncProducer(brokerList(), config)
	if err != nil {
		return fmt.Errorf("creating producer: %w", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			fmt.Fprintf(os.Stderr, "producer error: %v\n", err)
		}
	}()

	finish := func(reason string) error {
		fmt.Println(reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("completed: sent=%d errors=%d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
		return nil
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(opts.rate))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if opts.duration > 0 {
		deadline = time.After(opts.duration)
	}

	gen := &generator{opts: opts}
	var produced int64

	for {
		select {
		case <-sigChan:
			return finish("shutting down...")

		case <-deadline:
			return finish("duration reached, shutting down...")

		case now := <-ticker.C:
			req := gen.next(now.UTC())
			data, err := json.Marshal(req)
			if err != nil {
				return fmt.Errorf("encoding request: %w", err)
			}
			producer.Input() <- &sarama.ProducerMessage{
				Topic: topic,
				Key:   sarama.StringEncoder(req.ItemID),
				Value: sarama.ByteEncoder(data),
			}
			produced++

		case <-statsTicker.C:
			fmt.Printf("[%s] produced=%d sent=%d errors=%d\n",
				time.Now().Format("15:04:05"),
				produced,
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}

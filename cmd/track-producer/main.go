package main

import (
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/spf13/cobra"
)

var (
	brokers string
	topic   string

	rootCmd = &cobra.Command{
		Use:   "track-producer",
		Short: "Publishes track requests to the scoreboard's Kafka topic",
		Long: `track-producer sends track requests to the topic the scoreboard
consumes. Use "send" for a single item and "load" to generate a stream of
synthetic submissions and examples.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&brokers, "brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	rootCmd.PersistentFlags().StringVar(&topic, "topic", "scoreboard-track", "Kafka topic")

	rootCmd.AddCommand(newSendCmd(), newLoadCmd())
}

func brokerList() []string {
	return strings.Split(brokers, ",")
}

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	return config
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

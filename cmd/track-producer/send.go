package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/spf13/cobra"

	"github.com/template-scoreboard/internal/domain"
)

func newSendCmd() *cobra.Command {
	var (
		req       domain.TrackRequest
		kind      string
		createdAt string
	)

	cmd := &cobra.Command{
		Use:   "send [item-id]",
		Short: "Sends one track request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ItemID = args[0]
			req.Kind = domain.Kind(kind)
			if createdAt != "" {
				t, err := time.Parse(time.RFC3339, createdAt)
				if err != nil {
					return fmt.Errorf("parsing --created-at: %w", err)
				}
				req.CreatedAt = t
			}
			return sendOne(req)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&kind, "kind", string(domain.KindSubmission), "Item kind (submission or example)")
	flags.StringVar(&req.OwnerUserID, "owner", "", "Owner user id")
	flags.StringVar(&req.CreatorUserID, "creator", "", "Template creator user id (examples only)")
	flags.StringVar(&req.TemplateID, "template", "", "Template id (examples only)")
	flags.StringVar(&req.Username, "username", "", "Owner display name")
	flags.StringVar(&req.Title, "title", "", "Item title")
	flags.StringVar(&req.Permalink, "permalink", "", "Item permalink")
	flags.StringVar(&req.NotifyTargetID, "notify", "", "Message id that receives the final score")
	flags.StringVar(&createdAt, "created-at", "", "Creation time in RFC3339 (default now)")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func sendOne(req domain.TrackRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	producer, err := sarama.NewSyncProducer(brokerList(), producerConfig())
	if err != nil {
		return fmt.Errorf("creating producer: %w", err)
	}
	defer producer.Close()

	partition, offset, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(req.ItemID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	fmt.Printf("sent %s to %s (partition %d, offset %d)\n", req.ItemID, topic, partition, offset)
	return nil
}

// Package main runs the notification service: it consumes domain events
// from Kafka and turns them into user-facing email notifications.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/observashop/notification-service/internal/consumer"
	"github.com/observashop/notification-service/internal/dedup"
	"github.com/observashop/notification-service/internal/notification"
	"github.com/observashop/notification-service/pkg/core"
	"github.com/observashop/notification-service/pkg/core/worker"
	"github.com/observashop/notification-service/pkg/events"
	"github.com/observashop/notification-service/pkg/kafka/client"
	kafkaconfig "github.com/observashop/notification-service/pkg/kafka/config"
	"github.com/observashop/notification-service/pkg/kafka/provisioner"
	"github.com/observashop/notification-service/pkg/observability/tracing"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "notification-service",
		Short:   "Event-driven notification service",
		Long:    "notification-service consumes domain events from Kafka and delivers email notifications to users.",
		Version: version,
	}

	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume events and send notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			newApp().Run()
			return nil
		},
	}
}

func newApp() *fx.App {
	return fx.New(
		core.NewCoreModule(),
		tracing.NewTracingModule(),
		kafkaconfig.NewKafkaConfigModule(),
		client.NewClientModule(),
		provisioner.NewProvisionerModule(),
		dedup.NewDedupModule(),
		notification.NewNotificationModule(),
		events.NewRegistryModule(),
		consumer.NewConsumerModule(),
		worker.NewWorkerModule(),
	)
}

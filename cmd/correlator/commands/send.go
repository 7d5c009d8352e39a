package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/miradorstack/mirador-correlator/internal/api"
)

var (
	sendAddress  string
	sendFeedback bool
	sendTimeout  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send FILE",
	Short: "Send an alert payload or feedback file to a running correlator",
	Long: `Send a webhook payload (or, with --feedback, a list of
[cause, effect, confirmed] triples) to a correlator over gRPC.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		conn, err := grpc.NewClient(sendAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("connect %s: %w", sendAddress, err)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()
		client := api.NewCorrelatorClient(conn)

		if sendFeedback {
			req, err := api.FeedbackList(data)
			if err != nil {
				return err
			}
			_, err = client.SubmitFeedback(ctx, req)
			return err
		}
		req, err := api.WebhookStruct(data)
		if err != nil {
			return err
		}
		_, err = client.IngestAlerts(ctx, req)
		return err
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendAddress, "address", "localhost:50051", "Correlator gRPC address")
	sendCmd.Flags().BoolVar(&sendFeedback, "feedback", false, "Treat FILE as feedback triples")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "Request timeout")
}

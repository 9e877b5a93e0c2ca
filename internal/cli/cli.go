// Package cli implements the mobsync command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/eunmann/mobility-sync/internal/config"
	"github.com/eunmann/mobility-sync/internal/logctx"
	"github.com/eunmann/mobility-sync/pkg/archive"
	"github.com/eunmann/mobility-sync/pkg/logging"
	"github.com/eunmann/mobility-sync/pkg/store"
)

// Clients are the AWS APIs the commands use.
type Clients struct {
	S3     archive.API
	Dynamo store.API
}

// ClientFactory builds clients for a loaded configuration.
type ClientFactory func(ctx context.Context, cfg *config.Config) (Clients, error)

type app struct {
	configPath string
	debug      bool
	human      bool

	cfg     *config.Config
	clients ClientFactory
	out     io.Writer
}

// Run executes the CLI with the given arguments. SIGINT and SIGTERM cancel
// the running command.
func Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, AWSClients, os.Stdout)
}

func run(ctx context.Context, args []string, clients ClientFactory, out io.Writer) error {
	root := newRootCmd(&app{clients: clients, out: out})
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "mobsync",
		Short:         "Incremental sync of the Lyon mobility archive into DynamoDB",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("debug") {
				cfg.Log.Debug = a.debug
			}
			if cmd.Flags().Changed("human") {
				cfg.Log.Human = a.human
			}
			a.cfg = cfg

			logging.Init(cfg.Log.Debug, cfg.Log.Human)
			logctx.SetDefaultLogger(*logging.L())
			cmd.SetContext(logctx.WithLogger(cmd.Context(), *logging.L()))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./mobsync.yaml if present)")
	pf.BoolVar(&a.debug, "debug", false, "enable debug logging")
	pf.BoolVar(&a.human, "human", false, "human-readable console logs")

	root.AddCommand(newSyncCmd(a), newReportCmd(a), newFetchCmd(a), newPriceTableCmd(a))
	return root
}

// AWSClients builds S3 and DynamoDB clients from the default credential
// chain. A configured endpoint overrides both services, with path-style S3
// addressing for local stacks.
func AWSClients(ctx context.Context, cfg *config.Config) (Clients, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return Clients{}, fmt.Errorf("load AWS config: %w", err)
	}

	endpoint := cfg.AWS.Endpoint
	s3c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	ddb := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return Clients{S3: s3c, Dynamo: ddb}, nil
}

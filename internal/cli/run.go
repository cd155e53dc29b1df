package cli

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc/credentials"

	"github.com/relab/hetpaxos/config"
	"github.com/relab/hetpaxos/replica"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a consensus node.",
	Long: `Run a consensus node with the quorum systems, keys and peer addresses
from the configuration file. The node serves inbound peer streams, dials every
peer, and participates as an acceptor. If the configuration carries a proposal,
the node also proposes it until every learner has decided.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("tls", false, "enable TLS on peer connections")
	runCmd.Flags().String("cert", "", "path to the TLS certificate")
	runCmd.Flags().String("cert-key", "", "path to the TLS certificate's private key")
	runCmd.Flags().StringSlice("root-cas", []string{}, "paths to root certificates to trust")
	runCmd.Flags().Duration("proposal-interval", time.Second, "how often an undecided proposal is re-issued")
	runCmd.Flags().Duration("retention", 0, "how long undecided tally state is kept (0 keeps it forever)")
	runCmd.Flags().Duration("exit-after", 0, "duration after which the node should exit (0 runs until interrupted)")

	cobra.CheckErr(viper.BindPFlags(runCmd.Flags()))
}

func runNode() error {
	path, err := configFile()
	if err != nil {
		return err
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		return err
	}

	opts := []replica.Option{
		replica.WithProposalInterval(viper.GetDuration("proposal-interval")),
	}
	if d := viper.GetDuration("retention"); d > 0 {
		opts = append(opts, replica.WithRetention(d))
	}
	if viper.GetBool("tls") {
		creds, err := tlsCredentials()
		if err != nil {
			return err
		}
		opts = append(opts, replica.WithCredentials(creds))
	}

	r, err := replica.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := r.StartServer(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if d := viper.GetDuration("exit-after"); d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	r.Run(ctx)
	r.Close()
	return nil
}

// tlsCredentials builds mutually-authenticated TLS credentials from the cert,
// cert-key and root-cas flags. The same credentials serve both the inbound
// and the outbound side.
func tlsCredentials() (credentials.TransportCredentials, error) {
	certFile := viper.GetString("cert")
	keyFile := viper.GetString("cert-key")
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("tls requires both --cert and --cert-key")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	rootCAs := x509.NewCertPool()
	for _, caFile := range viper.GetStringSlice("root-cas") {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read root certificate: %w", err)
		}
		if !rootCAs.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      rootCAs,
		ClientCAs:    rootCAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}), nil
}

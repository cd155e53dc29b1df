package cli

import (
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/relab/hetpaxos/crypto/keygen"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen [destination]",
	Short: "Generate private keys, public keys and TLS certificates.",
	Long: `Generate a keypair for each named node under the destination directory,
PEM encoded. With --tls, a self-signed root certificate and one certificate
per node are generated as well; the node's name becomes the certificate's
CommonName, which peers use to identify it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := cmd.Flags().GetStringSlice("names")
		if err != nil {
			return err
		}
		hosts, err := cmd.Flags().GetStringSlice("hosts")
		if err != nil {
			return err
		}
		withTLS, err := cmd.Flags().GetBool("tls")
		if err != nil {
			return err
		}
		return generateKeys(args[0], names, hosts, withTLS)
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringSlice("names", []string{}, "node names to generate keys for")
	keygenCmd.Flags().StringSlice("hosts", []string{"localhost"}, "hostnames or IPs to include in the certificates")
	keygenCmd.Flags().Bool("tls", false, "also generate self-signed TLS certificates")
}

func generateKeys(dest string, names, hosts []string, withTLS bool) error {
	if len(names) == 0 {
		return fmt.Errorf("no node names given")
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dest, err)
	}

	var (
		caKey *ecdsa.PrivateKey
		ca    *x509.Certificate
		err   error
	)
	if withTLS {
		caKey, err = keygen.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate signing key: %w", err)
		}
		ca, err = keygen.GenerateRootCert(caKey)
		if err != nil {
			return fmt.Errorf("failed to generate root certificate: %w", err)
		}
		if err := keygen.WriteCertFile(ca, filepath.Join(dest, "ca.crt")); err != nil {
			return fmt.Errorf("failed to write root certificate: %w", err)
		}
	}

	for _, name := range names {
		key, err := keygen.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key for %s: %w", name, err)
		}
		if err := keygen.WritePrivateKeyFile(key, filepath.Join(dest, name+".key")); err != nil {
			return fmt.Errorf("failed to write private key for %s: %w", name, err)
		}
		if err := keygen.WritePublicKeyFile(&key.PublicKey, filepath.Join(dest, name+".pub")); err != nil {
			return fmt.Errorf("failed to write public key for %s: %w", name, err)
		}
		if withTLS {
			cert, err := keygen.GenerateTLSCert(name, hosts, ca, &key.PublicKey, caKey)
			if err != nil {
				return fmt.Errorf("failed to generate certificate for %s: %w", name, err)
			}
			if err := keygen.WriteCertFile(cert, filepath.Join(dest, name+".crt")); err != nil {
				return fmt.Errorf("failed to write certificate for %s: %w", name, err)
			}
		}
	}
	return nil
}

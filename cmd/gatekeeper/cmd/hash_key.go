package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolgateway/gatekeeper/internal/domain/auth"
)

var hashKeyArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [secret]",
	Short: "Generate a hash for a pre-shared credential",
	Long: `Generate a hash of a pre-shared credential secret for use in the
auth.credentials[].secret field of a config file.

By default this prints the bare SHA-256 hex digest, the fast lookup path
pre-shared authentication tries first. Pass --argon2id to instead print a
PHC-formatted Argon2id hash, for operators who don't want even a SHA-256
digest of the secret at rest; it costs a linear scan of every configured
credential on each authentication attempt instead of an O(1) map lookup.

Example:
  gatekeeper hash-key "my-secret-credential"
  gatekeeper hash-key --argon2id "my-secret-credential"

Security note: the secret will appear in shell history. Consider an
environment variable instead: gatekeeper hash-key "$MY_SECRET"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := args[0]
		if hashKeyArgon2id {
			hash, err := auth.HashSecretArgon2id(secret)
			if err != nil {
				return fmt.Errorf("hash-key: %w", err)
			}
			fmt.Println(hash)
			return nil
		}
		fmt.Println(auth.HashSecret(secret))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyArgon2id, "argon2id", false, "produce a PHC-formatted Argon2id hash instead of SHA-256")
	rootCmd.AddCommand(hashKeyCmd)
}

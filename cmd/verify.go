package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/habedi/docvault/pkg/clierr"
	"github.com/habedi/docvault/pkg/hasher"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// verifyCmd hashes a downloaded file and optionally compares it with a checksum.
func verifyCmd() *cobra.Command {
	var algo string

	cmd := &cobra.Command{
		Use:   "verify [file] [checksum]",
		Short: "Print or check the checksum of a local file",
		Long: "Print the checksum of a file, or compare it with a checksum as shown by the server " +
			"(\"algo:hex\" or a bare sha256 digest).",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if len(args) == 1 {
				if !hasher.IsValidHashAlgo(algo) {
					return clierr.New(clierr.Validation, fmt.Sprintf("Unsupported hash algorithm: %s", algo), nil)
				}
				sum, err := hasher.GenerateHash(path, algo)
				if err != nil {
					return hashFailed(path, err)
				}
				cmd.Printf("%s:%s  %s\n", algo, sum, path)
				return nil
			}

			v, err := hasher.NewVerifier(args[1])
			if err != nil {
				return validationError(err)
			}
			f, err := os.Open(path)
			if err != nil {
				return hashFailed(path, err)
			}
			defer f.Close()
			if _, err := io.Copy(v, f); err != nil {
				return hashFailed(path, err)
			}
			if err := v.Verify(); err != nil {
				return clierr.New(clierr.Validation, fmt.Sprintf("%s: %v", path, err), err)
			}
			cmd.Printf("%s: OK\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&algo, "algo", "a", "sha256", "Hash algorithm to use [md5, sha1, sha256, sha512]")

	return cmd
}

func hashFailed(path string, err error) error {
	log.Error().Err(err).Str("path", path).Msg("Failed to hash file")
	if os.IsNotExist(err) {
		return clierr.New(clierr.NotFound, fmt.Sprintf("File not found: %s", path), err)
	}
	return clierr.New(clierr.Internal, fmt.Sprintf("Failed to hash %s.", path), err)
}

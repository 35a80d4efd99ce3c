package main

import (
	"github.com/spf13/cobra"

	"github.com/davidahmann/proofpack/core/sign"
)

type keygenOutput struct {
	KeyID          string `json:"key_id"`
	PrivateKeyPath string `json:"private_key_path"`
	PublicKeyPath  string `json:"public_key_path"`
}

func newKeygenCmd(application *app) *cobra.Command {
	var outDir string
	var name string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 manifest signing key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pair, err := sign.GenerateKeyPair()
			if err != nil {
				return application.failure(err)
			}
			privatePath, publicPath, err := sign.WriteKeyPair(outDir, name, pair)
			if err != nil {
				return application.failure(err)
			}
			output := keygenOutput{KeyID: sign.KeyID(pair.Public), PrivateKeyPath: privatePath, PublicKeyPath: publicPath}
			return application.report(output, []string{
				"key_id: " + output.KeyID,
				"private: " + privatePath,
				"public: " + publicPath,
			}, exitOK)
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", ".proofpack/keys", "directory for the key files")
	cmd.Flags().StringVar(&name, "name", "signing", "key file base name")
	return cmd
}

package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/quorumcontrol/ballotbox/keystore"
)

func withKeyStore(fn func(keys *keystore.KeyStore) error) error {
	keys, err := openKeyStore()
	if err != nil {
		return err
	}
	defer keys.Close()
	return fn(keys)
}

func withUnlockedKeyStore(fn func(keys *keystore.KeyStore) error) error {
	return withKeyStore(func(keys *keystore.KeyStore) error {
		pass, err := readPassphrase()
		if err != nil {
			return err
		}
		if err := keys.Unlock(pass); err != nil {
			return fmt.Errorf("error unlocking keystore: %w", err)
		}
		defer keys.Lock()
		return fn(keys)
	})
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage voting accounts",
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeyStore(func(keys *keystore.KeyStore) error {
			accounts, err := keys.List()
			if err != nil {
				return err
			}
			for _, a := range accounts {
				marker := " "
				if a.Address == conf.Account {
					marker = "*"
				}
				fmt.Printf("%s %s %s\n", marker, a.Address.Hex(), a.Kind)
			}
			return nil
		})
	},
}

var keysImportCmd = &cobra.Command{
	Use:   "import <hex private key>",
	Short: "Import a private key as a local account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.HexToECDSA(args[0])
		if err != nil {
			return fmt.Errorf("invalid private key: %w", err)
		}
		return withUnlockedKeyStore(func(keys *keystore.KeyStore) error {
			account, err := keys.ImportKey(key)
			if err != nil {
				return err
			}
			fmt.Println(account.Address.Hex())
			return nil
		})
	},
}

var keysAddExternalCmd = &cobra.Command{
	Use:   "add-external <address>",
	Short: "Add an account whose key lives on an air-gapped signer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("%q is not a hex address", args[0])
		}
		addr := common.HexToAddress(args[0])
		return withKeyStore(func(keys *keystore.KeyStore) error {
			account, err := keys.AddExternal(addr)
			if err != nil {
				return err
			}
			fmt.Println(account.Address.Hex())
			return nil
		})
	},
}

func init() {
	keysCmd.AddCommand(keysListCmd, keysImportCmd, keysAddExternalCmd)
	rootCmd.AddCommand(keysCmd)
}

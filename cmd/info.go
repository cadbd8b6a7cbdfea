package cmd

import (
	"fmt"
	"os"

	"github.com/cryfs-go/cryfs/cfg"
	"github.com/cryfs-go/cryfs/internal/cryptoconfig"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info base-dir",
	Short: "Print a filesystem's config without mounting it",
	Long: `info decrypts and prints a filesystem's config file: its root blob
id, cipher, block size, and version history. It opens nothing beyond the
config file itself, so it works even on a filesystem whose local state
is tainted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		mountConfig.BaseDir = cfg.ResolvedPath(args[0])

		password, err := resolvePassword(&mountConfig)
		if err != nil {
			exitWith(exitWrongPassword, err)
		}

		path := configFilePath(&mountConfig)
		conf, err := cryptoconfig.Load(path, password)
		if err != nil {
			exitWith(exitCodeFor(err), err)
		}

		printConfig(conf)
		return nil
	},
}

func printConfig(conf cryptoconfig.Config) {
	fmt.Fprintf(os.Stdout, "Filesystem id:            %s\n", conf.FilesystemId)
	fmt.Fprintf(os.Stdout, "Root blob id:              %s\n", conf.RootBlobId)
	fmt.Fprintf(os.Stdout, "Cipher:                    %s\n", conf.CipherName)
	fmt.Fprintf(os.Stdout, "Block size (bytes):        %d\n", conf.BlockSizeBytes)
	fmt.Fprintf(os.Stdout, "Format version:            %s\n", conf.Version)
	fmt.Fprintf(os.Stdout, "Created with version:      %s\n", conf.CreatedWithVersion)
	fmt.Fprintf(os.Stdout, "Last opened with version:  %s\n", conf.LastOpenedWithVersion)
	fmt.Fprintf(os.Stdout, "Has parent pointers:       %t\n", conf.HasParentPointers)
	fmt.Fprintf(os.Stdout, "Has version numbers:       %t\n", conf.HasVersionNumbers)
}

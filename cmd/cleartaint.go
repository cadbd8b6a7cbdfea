package cmd

import (
	"fmt"
	"os"

	"github.com/cryfs-go/cryfs/cfg"
	"github.com/cryfs-go/cryfs/internal/cryptoconfig"
	"github.com/cryfs-go/cryfs/internal/localstate"
	"github.com/spf13/cobra"
)

var clearTaintCmd = &cobra.Command{
	Use:   "clear-taint base-dir",
	Short: "Clear a filesystem's tainted bit after an integrity violation",
	Long: `clear-taint is the operator action that lets a filesystem be
mounted again after a previous mount left it tainted (spec.md §4.J): a
rollback, replay, or wrong-client block was detected and the mount
refused to proceed silently past it. Run this only after you've
investigated the violation; it does not undo whatever caused it.`,
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

		key, err := conf.EncryptionKey()
		if err != nil {
			exitWith(exitInvalidFilesystem, err)
		}

		ls, err := localstate.Open(conf.FilesystemId, key, true)
		if err != nil {
			exitWith(exitCodeFor(err), err)
		}

		if err := ls.ClearTaint(); err != nil {
			exitWith(exitCodeFor(err), err)
		}

		fmt.Fprintf(os.Stdout, "Cleared the tainted bit for filesystem %s.\n", conf.FilesystemId)
		return nil
	},
}

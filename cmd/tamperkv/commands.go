package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tamperkv/internal/hasher"
	"tamperkv/internal/integrity"
	"tamperkv/internal/kv"
)

// errVerifyFailed makes the process exit with status 1 without printing an
// extra error line; the verdict has already been written.
var errVerifyFailed = errors.New("verification failed")

const saveMessage = "Data save has been successful"

type setResponse struct {
	Message string        `json:"message"`
	DataID  hasher.Digest `json:"dataId"`
}

type verifyResponse struct {
	Verified   bool          `json:"verified"`
	GlobalHash hasher.Digest `json:"globalHash"`
}

type digestResponse struct {
	StoreID    string        `json:"storeId"`
	Algorithm  string        `json:"algorithm"`
	GlobalHash hasher.Digest `json:"globalHash"`
}

// withEngine opens the engine for the duration of fn.
func (a *app) withEngine(fn func(*integrity.Engine) error) error {
	eng, err := openEngine(a.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()
	return fn(eng)
}

func (a *app) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a value, recovering it from the backup if it was tampered with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *integrity.Engine) error {
				res, err := eng.Get(args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func (a *app) newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value and print its digest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(eng *integrity.Engine) error {
				digest, err := eng.Set(args[0], args[1])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), setResponse{Message: saveMessage, DataID: digest})
			})
		},
	}
}

func (a *app) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every entry with its digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(func(eng *integrity.Engine) error {
				return writeJSON(cmd.OutOrStdout(), eng.List())
			})
		},
	}
}

func (a *app) newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <snapshot.json|->",
		Short: "Check a snapshot produced by list against the recorded global digest",
		Long: `verify reads a JSON snapshot in the format printed by "list" (use - for
stdin) and checks it against the recorded global digest. Every key of the
snapshot is also revalidated, recovering tampered entries from the backup.
The exit status is 1 when verification fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := readSnapshot(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return a.withEngine(func(eng *integrity.Engine) error {
				ok, err := eng.Verify(candidate)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), verifyResponse{Verified: ok, GlobalHash: eng.GlobalHash()}); err != nil {
					return err
				}
				if !ok {
					return errVerifyFailed
				}
				return nil
			})
		},
	}
}

func (a *app) newDigestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Print the recorded global digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(func(eng *integrity.Engine) error {
				return writeJSON(cmd.OutOrStdout(), digestResponse{
					StoreID:    eng.StoreID(),
					Algorithm:  eng.Hasher().Name(),
					GlobalHash: eng.GlobalHash(),
				})
			})
		},
	}
}

// readSnapshot decodes a snapshot from path, or from stdin when path is "-".
func readSnapshot(stdin io.Reader, path string) (kv.Entries, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return parseSnapshot(data)
}

func parseSnapshot(data []byte) (kv.Entries, error) {
	var candidate kv.Entries
	if err := json.Unmarshal(data, &candidate); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if candidate == nil {
		candidate = kv.Entries{}
	}
	return candidate, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

// main.go is the hostctl entrypoint: a small cobra CLI wrapping the core
// runtime's deploy/introduce/invoke/revoke lifecycle plus a serve
// subcommand starting the HTTP surface, mirroring the teacher's
// cmd/synnergy main.go (one rootCmd, one AddCommand per verb).

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	core "hostruntime/core"
)

func main() {
	rootCmd := &cobra.Command{Use: "hostctl"}
	rootCmd.PersistentFlags().String("env", "", "config environment to merge over default.yaml")
	rootCmd.AddCommand(deployCmd())
	rootCmd.AddCommand(introduceCmd())
	rootCmd.AddCommand(invokeCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(serveCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func currentApp(cmd *cobra.Command) (*app, error) {
	env, _ := cmd.Flags().GetString("env")
	return bootstrap(env)
}

func parseKind(s string) (core.EntityKind, error) {
	switch s {
	case "contract":
		return core.KindContract, nil
	case "agent":
		return core.KindAgent, nil
	default:
		return 0, fmt.Errorf("kind must be 'contract' or 'agent', got %q", s)
	}
}

func deployCmd() *cobra.Command {
	var wasmPath, kind string
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "validate a wasm module's exports without introducing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := currentApp(cmd)
			if err != nil {
				return err
			}
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			wasmBytes, err := os.ReadFile(wasmPath)
			if err != nil {
				return err
			}
			exports := core.ContractExports
			if k == core.KindAgent {
				exports = core.AgentExports
			}
			cm, err := a.code.Compile(wasmBytes, exports)
			if err != nil {
				return err
			}
			fmt.Printf("module ok, digest %s, exports:\n", cm.Digest.Hex())
			for name := range cm.Exports {
				fmt.Println(" ", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&wasmPath, "wasm", "", "path to the compiled wasm module")
	cmd.Flags().StringVar(&kind, "kind", "contract", "contract or agent")
	cmd.MarkFlagRequired("wasm")
	return cmd
}

func introduceCmd() *cobra.Command {
	var idHex, kind, wasmPath, description string
	var participants []string
	cmd := &cobra.Command{
		Use:   "introduce",
		Short: "introduce a new contract or agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := currentApp(cmd)
			if err != nil {
				return err
			}
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			id, err := core.IdFromHex(idHex)
			if err != nil {
				return err
			}
			if id.Kind() != k {
				return fmt.Errorf("id %s does not carry the %s kind nibble", idHex, kind)
			}
			wasmBytes, err := os.ReadFile(wasmPath)
			if err != nil {
				return err
			}
			parts := make([]core.Id, 0, len(participants))
			for _, p := range participants {
				pid, err := core.IdFromHex(p)
				if err != nil {
					return err
				}
				parts = append(parts, pid)
			}
			intro := core.Introduction{
				ID:           id,
				Participants: parts,
				Description:  description,
				Package:      core.Package{Definition: wasmBytes},
			}
			txCtx := core.TxContext{TxID: newTxID(), Writer: id}
			if k == core.KindAgent {
				return a.agent.Introduce(cmd.Context(), intro, txCtx)
			}
			return a.contract.Introduce(intro, txCtx)
		},
	}
	cmd.Flags().StringVar(&idHex, "id", "", "32-hex-char entity id")
	cmd.Flags().StringVar(&kind, "kind", "contract", "contract or agent")
	cmd.Flags().StringVar(&wasmPath, "wasm", "", "path to the compiled wasm module")
	cmd.Flags().StringVar(&description, "description", "", "human-readable description")
	cmd.Flags().StringSliceVar(&participants, "participant", nil, "participant id (repeatable, contracts only)")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("wasm")
	return cmd
}

func invokeCmd() *cobra.Command {
	var idHex, kind, method, paramsJSON string
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "invoke a method against an already-introduced entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := currentApp(cmd)
			if err != nil {
				return err
			}
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			id, err := core.IdFromHex(idHex)
			if err != nil {
				return err
			}
			var params core.Document
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("invalid --params json: %w", err)
				}
			}
			action := core.CallAction{Method: core.MethodRef{ByName: method}, Params: params}
			txCtx := core.TxContext{TxID: newTxID(), Writer: id}
			var out []byte
			if k == core.KindAgent {
				out, err = a.agent.InvokeAction(cmd.Context(), id, action, txCtx)
			} else {
				out, err = a.contract.Invoke(id, action, txCtx, core.BlockContext{})
			}
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&idHex, "id", "", "32-hex-char entity id")
	cmd.Flags().StringVar(&kind, "kind", "contract", "contract or agent")
	cmd.Flags().StringVar(&method, "method", "", "method name")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "method parameters as a JSON object")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("method")
	return cmd
}

func revokeCmd() *cobra.Command {
	var idHex, kind, reason string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "revoke an introduced contract or agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := currentApp(cmd)
			if err != nil {
				return err
			}
			if _, err := parseKind(kind); err != nil {
				return err
			}
			id, err := core.IdFromHex(idHex)
			if err != nil {
				return err
			}
			rev := core.Revocation{ID: id, Reason: reason}
			txCtx := core.TxContext{TxID: newTxID(), Writer: id}
			if id.Kind() == core.KindAgent {
				return a.agent.Revoke(cmd.Context(), rev, txCtx)
			}
			return a.contract.Revoke(rev, txCtx)
		},
	}
	cmd.Flags().StringVar(&idHex, "id", "", "32-hex-char entity id")
	cmd.Flags().StringVar(&kind, "kind", "contract", "contract or agent")
	cmd.Flags().StringVar(&reason, "reason", "", "revocation reason")
	cmd.MarkFlagRequired("id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the HTTP surface over the controller facade",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := currentApp(cmd)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.HTTP.ListenAddr
			}
			if addr == "" {
				addr = ":8080"
			}
			srv := newHTTPServer(addr, a)
			return srv.Start()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides config http.listen_addr")
	return cmd
}

func newTxID() core.TxIdentifier {
	return core.TxIdentifier{Hash: core.Sum256([]byte(hex.EncodeToString(core.NewId(core.KindFlow).Bytes())))}
}

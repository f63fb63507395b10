package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	jewel "github.com/jewe-1969/jilruntime-sub003"
	"github.com/jewe-1969/jilruntime-sub003/log"
)

var (
	optionString string
	outputPath   string
	entryPoint   string
	verbose      bool
)

func newRuntime() *jewel.Runtime {
	level := log.LevelWarn
	if verbose {
		level = log.LevelDebug
	}
	opts := []jewel.Option{
		jewel.WithLogger(log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(level))),
	}
	if optionString != "" {
		opts = append(opts, jewel.WithOptionString(optionString))
	}
	if verbose {
		opts = append(opts, jewel.WithOptionString("verbose"))
	}
	return jewel.NewRuntime(opts...)
}

func drainErrors(rt *jewel.Runtime) {
	for {
		msg, ok := rt.Compiler().NextError()
		if !ok {
			break
		}
		fmt.Fprintln(os.Stderr, msg)
	}
}

func compileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <script>",
		Short: "Compile a script and save the binary chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := newRuntime()
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := rt.CompileAndLink(args[0], string(src)); err != nil {
				drainErrors(rt)
				return err
			}
			drainErrors(rt)
			out := outputPath
			if out == "" {
				out = args[0] + ".bin"
			}
			return rt.SaveChunkFile(out)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "chunk output path")
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script-or-chunk>",
		Short: "Run a script file or a saved chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := newRuntime()
			chunkErr := rt.LoadChunkFile(args[0])
			if chunkErr != nil {
				src, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				if err := rt.CompileAndLink(args[0], string(src)); err != nil {
					drainErrors(rt)
					return err
				}
				drainErrors(rt)
			}
			if err := rt.Run(); err != nil {
				return err
			}
			fn := rt.GetFunction(nil, entryPoint)
			if fn == nil {
				return fmt.Errorf("entry point %q not found", entryPoint)
			}
			result, err := rt.CallFunction(fn)
			if err != nil {
				return err
			}
			if result != nil && !result.IsNull() {
				switch result.TypeID {
				case jewel.TypeInt:
					fmt.Println(result.Int)
				case jewel.TypeFloat:
					fmt.Println(result.Float)
				case jewel.TypeString:
					fmt.Println(result.Str)
				}
				rt.ReleaseHandle(result)
			}
			return rt.Terminate()
		},
	}
	cmd.Flags().StringVar(&entryPoint, "entry", "main", "entry point function")
	return cmd
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <script>",
		Short: "Compile a script and list the generated instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := newRuntime()
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := rt.CompileAndLink(args[0], string(src)); err != nil {
				drainErrors(rt)
				return err
			}
			drainErrors(rt)
			chunk, err := rt.SaveChunk()
			if err != nil {
				return err
			}
			fmt.Printf("; chunk %d bytes\n", len(chunk))
			code := rt.CodeSegment()
			for addr := 0; addr < len(code); {
				line, size := jewel.ListInstruction(code, addr)
				if size == 0 {
					break
				}
				fmt.Println(line)
				addr += size
			}
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:          "jewelc",
		Short:        "jewel script compiler and runtime host",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&optionString, "options", "", "compiler option string (name=value, comma separated)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	root.AddCommand(compileCmd(), runCmd(), dumpCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

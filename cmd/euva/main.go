package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pumpkin-bit/euva/internal/bytesource"
	"github.com/pumpkin-bit/euva/internal/colorize"
	"github.com/pumpkin-bit/euva/internal/detect"
	glog "github.com/pumpkin-bit/euva/internal/log"
	"github.com/pumpkin-bit/euva/internal/pemap"
	"github.com/pumpkin-bit/euva/internal/pestruct"
	"github.com/pumpkin-bit/euva/internal/scan"
	"github.com/pumpkin-bit/euva/internal/script"
	"github.com/pumpkin-bit/euva/internal/undo"
)

var (
	verbose   bool
	quiet     bool
	sigdbPath string
	plugins   []string
	revert    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "euva",
		Short: "Static PE analysis and script-driven patching",
		Long: `Euva decomposes PE files into a navigable structure tree, scans for
packer and protector signatures, and applies byte patches written in the
.euv scripting language.

Scripts locate addresses by signature, assemble a restricted subset of
x86 inline, and commit edits through a transactional undo journal, so a
whole run rolls back as one unit.

Examples:
  euva analyze target.exe             # Structure tree + detector results
  euva run target.exe patch.euv       # One script run
  euva watch target.exe patch.euv     # Re-run on script change
  euva info target.exe                # Header summary and entropies`,
		DisableFlagsInUseLine: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "quiet mode (results only)")
	rootCmd.PersistentFlags().StringVar(&sigdbPath, "sigdb", "", "YAML signature database with extra detectors")
	rootCmd.PersistentFlags().StringArrayVar(&plugins, "plugin", nil, "JavaScript detector plugin (repeatable)")

	runCmd := &cobra.Command{
		Use:   "run <file.exe> <script.euv>",
		Short: "Execute one script run against the file",
		Args:  cobra.ExactArgs(2),
		RunE:  runScript,
	}
	runCmd.Flags().BoolVar(&revert, "revert", false, "roll the run back after applying it (dry run)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "analyze <file.exe>",
			Short: "Parse the PE structure and run detectors",
			Args:  cobra.ExactArgs(1),
			RunE:  runAnalyze,
		},
		runCmd,
		&cobra.Command{
			Use:   "watch <file.exe> <script.euv>",
			Short: "Re-run the script on every change (Enter forces a run)",
			Args:  cobra.ExactArgs(2),
			RunE:  runWatch,
		},
		&cobra.Command{
			Use:   "info <file.exe>",
			Short: "Show header summary and section entropies",
			Args:  cobra.ExactArgs(1),
			RunE:  showInfo,
		},
		&cobra.Command{
			Use:   "inspect <file.exe> <offset>",
			Short: "Interpret the bytes at an offset",
			Args:  cobra.ExactArgs(2),
			RunE:  runInspect,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogger() *glog.Logger {
	glog.Init(verbose)
	return glog.L
}

// registry builds the detector set: built-ins, then the YAML signature
// database, then JavaScript plugins.
func registry(logger *glog.Logger) (*detect.Registry, error) {
	reg := detect.NewRegistry(logger)
	reg.Register(detect.UPX{})
	reg.Register(detect.FSG{})
	reg.Register(detect.Themida{})

	if sigdbPath != "" {
		dets, err := detect.LoadSigDB(sigdbPath)
		if err != nil {
			return nil, err
		}
		for _, d := range dets {
			reg.Register(d)
		}
	}
	for _, path := range plugins {
		p, err := detect.LoadPlugin(path)
		if err != nil {
			return nil, err
		}
		reg.Register(p)
	}
	return reg, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	logger := initLogger()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	src := bytesource.NewBuffer(data)

	res := pemap.Map(src, pemap.EntropyProvider{})
	if !quiet {
		printTree(res.Root, 0)
		fmt.Println()
		printRegions(res.Regions)
		fmt.Println()
	}

	reg, err := registry(logger)
	if err != nil {
		return err
	}

	progress := make(chan string, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range progress {
			if !quiet {
				fmt.Println(colorize.Detail("scanning: " + msg))
			}
		}
	}()

	results := reg.Analyze(cmd.Context(), data, res.Root, progress)
	close(progress)
	<-done

	if len(results) == 0 {
		fmt.Println("no packer or protector detected")
		return nil
	}
	for _, r := range results {
		name := r.Name
		if r.Version != "" {
			name += " " + r.Version
		}
		fmt.Printf("%s  %s  confidence %s\n",
			colorize.Detection(name), r.Kind, colorize.Confidence(r.Confidence))
		for k, v := range r.Metadata {
			fmt.Printf("    %s: %s\n", k, colorize.Detail(v))
		}
		for _, m := range r.Matches {
			fmt.Printf("    %s %s\n", colorize.Address(m.Offset), colorize.HexBytes(m.Pattern))
		}
	}
	return nil
}

func runScript(cmd *cobra.Command, args []string) error {
	logger := initLogger()

	src, err := bytesource.OpenMapped(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	journal := undo.New(src)
	eng := script.NewEngine(src, journal, logger)
	eng.Dirty = bytesource.NewDirtySet()

	report, err := eng.RunFile(cmd.Context(), args[1])
	if err != nil {
		return err
	}
	printReport(report)

	if revert && report.Writes > 0 {
		n := journal.UndoTransaction()
		fmt.Printf("reverted %d bytes\n", n)
	}

	cfg := loadConfig()
	cfg.LastScript = args[1]
	saveConfig(cfg)

	return src.Flush()
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := initLogger()

	src, err := bytesource.OpenMapped(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	journal := undo.New(src)
	eng := script.NewEngine(src, journal, logger)
	eng.Dirty = bytesource.NewDirtySet()

	scriptPath := args[1]
	w, err := script.NewWatcher(scriptPath, func() {
		report, err := eng.RunFile(context.Background(), scriptPath)
		if err != nil {
			fmt.Println(colorize.Error(err.Error()))
			return
		}
		printReport(report)
		src.Flush()
	}, logger)
	if err != nil {
		return err
	}

	// Enter in the terminal forces an immediate run, bypassing debounce.
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			w.Trigger()
		}
	}()

	fmt.Printf("watching %s (Enter to force a run, Ctrl-C to stop)\n", scriptPath)
	w.Trigger()
	return w.Start(cmd.Context())
}

func showInfo(cmd *cobra.Command, args []string) error {
	initLogger()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	src := bytesource.NewBuffer(data)
	res := pemap.Map(src)

	fmt.Printf("%s  %s\n", args[0], humanize.Bytes(uint64(len(data))))
	if n := res.Root.FindByPath("NT Headers", "File Header", "Machine"); n != nil {
		fmt.Printf("  machine:  %s\n", n.DisplayValue)
	}
	if n := res.Root.FindByPath("NT Headers", "File Header", "TimeDateStamp"); n != nil {
		fmt.Printf("  built:    %s\n", n.DisplayValue)
	}
	if n := res.Root.FindByPath("NT Headers", "Optional Header", "AddressOfEntryPoint"); n != nil {
		fmt.Printf("  entry:    %s\n", n.DisplayValue)
	}
	if n := res.Root.FindByPath("NT Headers", "Optional Header", "ImageBase"); n != nil {
		fmt.Printf("  base:     %s\n", n.DisplayValue)
	}
	if errNode := res.Root.Child("Parse Error"); errNode != nil {
		fmt.Printf("  %s\n", colorize.Error(errNode.DisplayValue))
		return nil
	}

	fmt.Println("  sections:")
	entropies := scan.EntropyByRegion(data, res.Regions)
	for _, r := range res.Regions {
		if r.Kind != pestruct.KindCode && r.Kind != pestruct.KindData {
			continue
		}
		line := fmt.Sprintf("    %-10s %s  %10s",
			colorize.Section(r.Name), colorize.Address(r.Offset), humanize.Bytes(r.Size))
		if e, ok := entropies[r.Name]; ok {
			line += fmt.Sprintf("  entropy %.2f", e)
			if e > 7.0 {
				line += " " + colorize.Detection("(packed?)")
			}
		}
		fmt.Println(line)
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	initLogger()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	off, err := parseOffset(args[1])
	if err != nil {
		return err
	}
	if off >= uint64(len(data)) {
		return fmt.Errorf("offset 0x%X past end of file (%s)", off, humanize.Bytes(uint64(len(data))))
	}

	src := bytesource.NewBuffer(data)
	window := make([]byte, 16)
	src.ReadInto(off, window)

	fmt.Printf("offset %s\n", colorize.Address(off))
	fmt.Printf("  bytes:     % X\n", window)
	fmt.Printf("  u8:        %d\n", window[0])
	fmt.Printf("  u16le:     %d\n", uint16(window[0])|uint16(window[1])<<8)
	u32 := uint32(window[0]) | uint32(window[1])<<8 | uint32(window[2])<<16 | uint32(window[3])<<24
	fmt.Printf("  u32le:     %d (0x%08X)\n", u32, u32)

	date := uint16(window[0]) | uint16(window[1])<<8
	tm := uint16(window[2]) | uint16(window[3])<<8
	fmt.Printf("  dos time:  %s\n", pestruct.FormatDosDateTime(date, tm))

	if v, n := pestruct.Uleb128(window); n > 0 {
		fmt.Printf("  uleb128:   %d (%d bytes)\n", v, n)
	}

	span := make([]byte, 256)
	read := src.ReadInto(off, span)
	fmt.Printf("  entropy:   %.2f (next %d bytes)\n", scan.Entropy(span[:read]), read)
	return nil
}

func parseOffset(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func printTree(n *pestruct.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	line := indent + n.Name
	if n.DisplayValue != "" {
		line += " = " + colorize.Detail(n.DisplayValue)
	} else if n.HasOffset {
		line += " " + colorize.Detail(fmt.Sprintf("@ 0x%X (%d bytes)", n.Offset, n.Size))
	}
	fmt.Println(line)
	for _, c := range n.Children {
		printTree(c, depth+1)
	}
}

func printRegions(regions []pestruct.Region) {
	fmt.Println(colorize.Header("regions:"))
	for _, r := range regions {
		fmt.Printf("  %s +%-8s %-10s %s\n",
			colorize.Address(r.Offset), humanize.Bytes(r.Size), r.Kind, colorize.Section(r.Name))
	}
}

func printReport(report *script.Report) {
	if quiet {
		fmt.Printf("%d bytes written\n", report.Writes)
		return
	}
	for _, e := range report.Events {
		switch e.Tag {
		case script.TagPatch:
			// Detail is "[old] -> [new]  ; disasm" - colorize the parts.
			detail := e.Detail
			if i := strings.Index(detail, "; "); i >= 0 {
				detail = colorize.HexBytes(detail[:i]) + "; " + colorize.Instruction(detail[i+2:])
			} else {
				detail = colorize.HexBytes(detail)
			}
			fmt.Printf("%s  %s\n", colorize.Address(e.Addr), detail)
		case script.TagFound:
			fmt.Printf("%s  found %s\n", colorize.Address(e.Addr), e.Detail)
		case script.TagNotFound:
			fmt.Println(colorize.Error("not found: " + e.Detail))
		case script.TagSkip:
			fmt.Println(colorize.Detail("skipped: " + e.Line + " (" + e.Detail + ")"))
		case script.TagCheckFail:
			fmt.Printf("%s  %s\n", colorize.Address(e.Addr), colorize.Error("check failed: "+e.Detail))
		case script.TagWarn:
			fmt.Println(colorize.Error(e.Detail))
		}
	}
	fmt.Printf("%d bytes written\n", report.Writes)
}

// Command metaclean is a thin CLI shell over the metadata-cleaning
// engine: classify a file, run its handler's detect/clean/hash, and
// optionally fall back to the external ExifTool bridge. It exists only
// to make the module runnable; the engine package tree is the real
// surface other programs embed.
package main

import (
	"flag"
	"fmt"
	"os"

	"metaclean/internal/classifier"
	"metaclean/internal/config"
	"metaclean/internal/dispatch"
	"metaclean/internal/engine"
	"metaclean/internal/errlog"
	"metaclean/internal/exiftool"
	"metaclean/internal/formats/legacyoffice"
)

func main() {
	if err := errlog.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "metaclean: warning: error log unavailable: %v\n", err)
	}
	defer errlog.Close()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "detect":
		err = runDetect(args)
	case "clean":
		err = runClean(args)
	case "hash":
		err = runHash(args)
	case "probe-tool":
		err = runProbeTool(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		errlog.Logf("%s %v: %v", cmd, args, err)
		fmt.Fprintf(os.Stderr, "metaclean: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: metaclean <command> [arguments]

commands:
  detect <path>              report sensitive metadata present in path
  clean [-backup] <path>     strip sensitive metadata from path in place
  hash <path>                print the content-invariant fingerprint of path
  probe-tool                 report whether the external ExifTool bridge is available`)
}

func runDetect(args []string) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: metaclean detect <path>")
	}
	path := fs.Arg(0)

	t, err := classifier.Classify(path)
	if err != nil {
		return fmt.Errorf("classify %s: %w", path, err)
	}

	report := engine.DetectionReport{Type: t}
	if h, ok := dispatch.HandlerFor(t); ok {
		report, err = h.Detect(path)
		if err != nil {
			return fmt.Errorf("detect %s: %w", path, err)
		}
	}

	cfg := config.FromEnv()
	if dispatch.ExternalToolEligible(t) {
		labels := exiftool.SensitiveLabels(path, cfg.ExtraToolPaths, cfg.DetectTimeout)
		for _, label := range labels {
			report.AddLabel(label)
		}
		if len(labels) > 0 {
			report.CanClean = true
		}
	}

	fmt.Printf("type: %s\n", report.Type)
	fmt.Printf("can_clean: %v\n", report.CanClean)
	fmt.Printf("labels: %v\n", report.Summary)
	if report.Note != "" {
		fmt.Printf("note: %s\n", report.Note)
	}
	return nil
}

func runClean(args []string) error {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	backupFlag := fs.Bool("backup", false, "keep a .bak copy of the original file")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: metaclean clean [-backup] <path>")
	}
	path := fs.Arg(0)

	cfg := config.FromEnv()
	backupRequested := *backupFlag || cfg.BackupByDefault

	t, err := classifier.Classify(path)
	if err != nil {
		return fmt.Errorf("classify %s: %w", path, err)
	}

	res := engine.CleanResult{Changed: false, Reason: fmt.Sprintf("no native handler for type %s", t)}
	if h, ok := dispatch.HandlerFor(t); ok {
		res, err = h.Clean(path, backupRequested)
		if err != nil {
			return fmt.Errorf("clean %s: %w", path, err)
		}
	}

	if !res.Changed && dispatch.ExternalToolEligible(t) {
		if b, available := exiftool.Probe(cfg.ExtraToolPaths, cfg.DetectTimeout); available {
			b.WithTimeouts(cfg.DetectTimeout, cfg.CleanTimeout)
			if toolRes, toolErr := b.Clean(path, t); toolErr == nil {
				res = toolRes
			}
		}
	}

	fmt.Printf("changed: %v\n", res.Changed)
	fmt.Printf("reason: %s\n", res.Reason)
	return nil
}

func runHash(args []string) error {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: metaclean hash <path>")
	}
	path := fs.Arg(0)

	t, err := classifier.Classify(path)
	if err != nil {
		return fmt.Errorf("classify %s: %w", path, err)
	}
	h, ok := dispatch.HandlerFor(t)
	if !ok {
		return fmt.Errorf("no native handler for type %s", t)
	}
	ch, err := h.Hash(path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	fmt.Printf("%s  %s  (%s)\n", ch.Digest, path, ch.Description)

	if t == engine.TypeDOC || t == engine.TypeXLS || t == engine.TypePPT {
		hasSummary, hasDocSummary := legacyoffice.PropsState(path)
		fmt.Printf("has_summary: %v\n", hasSummary)
		fmt.Printf("has_docsummary: %v\n", hasDocSummary)
	}
	return nil
}

func runProbeTool(args []string) error {
	fs := flag.NewFlagSet("probe-tool", flag.ExitOnError)
	fs.Parse(args)

	cfg := config.FromEnv()
	if _, ok := exiftool.Probe(cfg.ExtraToolPaths, cfg.DetectTimeout); ok {
		fmt.Println("available: true")
	} else {
		fmt.Println("available: false")
	}
	return nil
}

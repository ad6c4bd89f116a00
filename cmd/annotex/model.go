package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"annotex/internal/models"
	"annotex/internal/ner"
)

func (c *cli) modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the ONNX models used by onnx recognizers",
	}

	var registry models.Registry
	var root string
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := c.init(); err != nil {
			return err
		}
		reg, err := models.LoadEmbeddedRegistry()
		if err != nil {
			return err
		}
		registry = reg
		root = c.cfg.Models.Root
		return nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known models and whether they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return modelList(cmd.OutOrStdout(), registry, root)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "info <name>",
		Short: "Show details of one model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return modelInfo(cmd.OutOrStdout(), registry, root, args[0])
		},
	})

	var all bool
	download := &cobra.Command{
		Use:   "download [name]",
		Short: "Download, verify and install a model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := selectModels(registry, args, all)
			if err != nil {
				return err
			}
			dl := models.NewDownloader()
			dl.Logger = c.logger
			return modelDownload(cmd.Context(), cmd.OutOrStdout(), dl, selected, root)
		},
	}
	download.Flags().BoolVar(&all, "all", false, "download all recommended models")
	cmd.AddCommand(download)

	var yes bool
	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete an installed model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if yes {
				in = strings.NewReader("y\n")
			}
			return modelRemove(cmd.OutOrStdout(), in, registry, root, args[0])
		},
	}
	remove.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.AddCommand(remove)

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check checksums, files and loadability of installed models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return modelVerify(cmd.OutOrStdout(), registry, root, c.logger)
		},
	})
	return cmd
}

func modelList(w io.Writer, registry models.Registry, root string) error {
	fmt.Fprintln(w, "Available Models")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "%-10s %-6s %-8s %-14s %-30s\n", "NAME", "LANG", "SIZE", "STATUS", "TYPES")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	installed := 0
	var totalSize int64
	for _, m := range registry.Models {
		status := "not installed"
		if models.IsInstalled(root, m) {
			status = "installed"
			installed++
			totalSize += m.SizeBytes
		}
		fmt.Fprintf(w, "%-10s %-6s %-8s %-14s %-30s\n", m.Name, m.Language, humanBytes(m.SizeBytes), status, strings.Join(m.EntityTypes, ", "))
	}
	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "Installed: %d/%d models\n", installed, len(registry.Models))
	fmt.Fprintf(w, "Total size: %s\n", humanBytes(totalSize))
	fmt.Fprintln(w, "\nTip: Use 'annotex model download <name>' to install a model")
	return nil
}

func modelInfo(w io.Writer, registry models.Registry, root, name string) error {
	m, ok := registry.Find(name)
	if !ok {
		return errors.Newf("model %q not found", name)
	}
	status := "Not installed"
	if models.IsInstalled(root, m) {
		status = "Installed"
	}
	fmt.Fprintf(w, "NER Model: %s\n", m.Name)
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Status:         %s\n", status)
	fmt.Fprintf(w, "Version:        %s\n", m.Version)
	fmt.Fprintf(w, "Language:       %s\n", m.Language)
	fmt.Fprintf(w, "Size:           %s\n", humanBytes(m.SizeBytes))
	fmt.Fprintf(w, "Location:       %s\n", models.ModelInstallPath(root, m.Name))
	fmt.Fprintf(w, "Description:    %s\n", m.Description)
	fmt.Fprintf(w, "Entity Types:   %s\n", strings.Join(m.EntityTypes, ", "))
	for _, typ := range m.EntityTypes {
		if labels := m.LabelsFor(typ); len(labels) > 0 {
			fmt.Fprintf(w, "  %-12s  %s\n", typ, strings.Join(labels, ", "))
		}
	}
	fmt.Fprintf(w, "Accuracy:       F1 %.2f (%s)\n", m.Accuracy.F1Score, m.Accuracy.Benchmark)
	fmt.Fprintf(w, "Architecture:   %s\n", m.Architecture)
	fmt.Fprintf(w, "License:        %s\n", m.License)
	fmt.Fprintf(w, "URL:            %s\n", m.URL)
	fmt.Fprintf(w, "Checksum:       %s\n", m.Checksum)
	return nil
}

func selectModels(registry models.Registry, args []string, all bool) ([]models.ModelSpec, error) {
	if all {
		selected := make([]models.ModelSpec, 0)
		for _, m := range registry.Models {
			if m.Recommended {
				selected = append(selected, m)
			}
		}
		return selected, nil
	}
	if len(args) != 1 {
		return nil, errors.New("usage: annotex model download <name> or annotex model download --all")
	}
	m, ok := registry.Find(args[0])
	if !ok {
		return nil, errors.Newf("model %q not found", args[0])
	}
	return []models.ModelSpec{m}, nil
}

func modelDownload(ctx context.Context, w io.Writer, dl *models.Downloader, selected []models.ModelSpec, root string) error {
	for _, m := range selected {
		fmt.Fprintf(w, "\nDownloading %s v%s\n", m.Name, m.Version)
		fmt.Fprintf(w, "Source: %s\n\n", m.URL)
		lastUpdate := time.Time{}
		err := dl.Install(ctx, m, root, func(p models.Progress) {
			if time.Since(lastUpdate) < 120*time.Millisecond && p.Total > 0 {
				return
			}
			lastUpdate = time.Now()
			pct := float64(0)
			if p.Total > 0 {
				pct = float64(p.Downloaded) * 100 / float64(p.Total)
			}
			fmt.Fprintf(w, "\rDownloading... %6.2f%% | %s / %s | %.2f MB/s | ETA %s", pct, humanBytes(p.Downloaded), humanBytes(p.Total), p.SpeedMBps, p.ETA.Truncate(time.Second))
		})
		fmt.Fprintln(w)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "Verifying checksum... ✓")
		fmt.Fprintln(w, "Extracting... ✓")
		if err := validateModelLoads(models.ModelInstallPath(root, m.Name), dl.Logger); err != nil {
			return errors.Wrap(err, "validate model")
		}
		fmt.Fprintln(w, "Validating model... ✓")
		fmt.Fprintf(w, "\n✓ Model %s installed successfully\n", m.Name)
	}
	return nil
}

// validateModelLoads parses the label and tokenizer files the same way the
// onnx recognizers do. Inference itself is not run.
func validateModelLoads(modelDir string, logger *zap.Logger) error {
	if err := validateModelMetadata(modelDir); err != nil {
		return err
	}
	model := ner.NewONNXModel(ner.ONNXModelConfig{Dir: modelDir, Logger: logger})
	if err := model.Load(); err != nil {
		return err
	}
	if len(model.EntityLabels()) == 0 {
		return errors.New("labels.json has no entity labels")
	}
	return nil
}

func validateModelMetadata(modelDir string) error {
	labelsRaw, err := os.ReadFile(filepath.Join(modelDir, "labels.json"))
	if err != nil {
		return errors.Wrap(err, "read labels.json")
	}
	var labels map[string]string
	if err := json.Unmarshal(labelsRaw, &labels); err != nil {
		return errors.Wrap(err, "parse labels.json")
	}
	if len(labels) == 0 {
		return errors.New("labels.json is empty")
	}

	tokenizerRaw, err := os.ReadFile(filepath.Join(modelDir, "tokenizer.json"))
	if err != nil {
		return errors.Wrap(err, "read tokenizer.json")
	}
	var tokenizerPayload map[string]any
	if err := json.Unmarshal(tokenizerRaw, &tokenizerPayload); err != nil {
		return errors.Wrap(err, "parse tokenizer.json")
	}
	if len(tokenizerPayload) == 0 {
		return errors.New("tokenizer.json is empty")
	}
	return nil
}

func modelRemove(w io.Writer, in io.Reader, registry models.Registry, root, name string) error {
	m, ok := registry.Find(name)
	if !ok {
		return errors.Newf("model %q not found", name)
	}
	loc := models.ModelInstallPath(root, m.Name)
	if _, err := os.Stat(loc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(w, "Model %s is not installed\n", name)
			return nil
		}
		return err
	}
	fmt.Fprintf(w, "Remove model '%s' (%s)?\n", m.Name, humanBytes(m.SizeBytes))
	fmt.Fprintf(w, "This will delete %s\n\n", loc)
	fmt.Fprint(w, "Continue? (y/N): ")
	resp, _ := bufio.NewReader(in).ReadString('\n')
	resp = strings.TrimSpace(strings.ToLower(resp))
	if resp != "y" && resp != "yes" {
		fmt.Fprintln(w, "Cancelled")
		return nil
	}
	if err := os.RemoveAll(loc); err != nil {
		return err
	}
	fmt.Fprintln(w, "Removing model... ✓")
	fmt.Fprintf(w, "Model %s removed successfully\n", m.Name)
	return nil
}

func modelVerify(w io.Writer, registry models.Registry, root string, logger *zap.Logger) error {
	fmt.Fprintln(w, "Verifying installed models...")
	installed := 0
	failures := 0
	for _, m := range registry.Models {
		if !models.IsInstalled(root, m) {
			continue
		}
		installed++
		fmt.Fprintf(w, "\n%s\n", m.Name)
		dir := models.ModelInstallPath(root, m.Name)
		if sum, err := models.InstalledChecksum(root, m.Name); err == nil {
			if sum == m.Checksum {
				fmt.Fprintln(w, "  ├─ Checksum... ✓")
			} else {
				fmt.Fprintln(w, "  ├─ Checksum... ✗ (registry mismatch)")
				failures++
			}
		} else {
			fmt.Fprintln(w, "  ├─ Checksum... ? (metadata unavailable)")
		}
		if err := models.ValidateModelDir(dir); err != nil {
			fmt.Fprintf(w, "  ├─ Files...    ✗ (%v)\n", err)
			failures++
			continue
		}
		fmt.Fprintln(w, "  ├─ Files...    ✓")
		if err := validateModelLoads(dir, logger); err != nil {
			fmt.Fprintf(w, "  └─ Loadable... ✗ (%v)\n", err)
			failures++
			continue
		}
		fmt.Fprintln(w, "  └─ Loadable... ✓")
	}
	if installed == 0 {
		fmt.Fprintln(w, "\nNo installed models found")
		return nil
	}
	if failures > 0 {
		return errors.Newf("%d model(s) failed verification", failures)
	}
	fmt.Fprintln(w, "\nAll models verified")
	return nil
}

func humanBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	const mb = 1024 * 1024
	if n >= mb {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d KB", n/1024)
}

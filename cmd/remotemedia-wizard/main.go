// SPDX-License-Identifier: MIT

// Package main implements the pipeline manifest wizard (SPEC_FULL.md
// §4.16): an interactive terminal session that authors a manifest by
// adding nodes from the registry, wiring connections, and live-validating
// against spec.md §4.3 before saving JSON a scheduler can run.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/remotemedia-ai/remotemedia-engine/internal/manifest"
	"github.com/remotemedia-ai/remotemedia-engine/internal/menu"
	"github.com/remotemedia-ai/remotemedia-engine/internal/registry"
)

func main() {
	var (
		loadPath = flag.String("manifest", "", "existing manifest JSON to load and continue editing")
		name     = flag.String("name", "untitled", "manifest name, used when --manifest is not given")
		output   = flag.String("output", "manifest.json", "default save path")
	)
	flag.Parse()

	reg := registry.New()
	reg.SetAutoRegister(registry.RegisterBuiltins)

	builder, err := openBuilder(*loadPath, *name, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := runWizard(os.Stdin, os.Stdout, builder, *output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openBuilder(loadPath, name string, reg *registry.Registry) (*Builder, error) {
	if loadPath == "" {
		return NewBuilder(name, reg), nil
	}
	return LoadBuilder(loadPath, reg)
}

// runWizard drives the top-level add/connect/validate/save loop. r/w are
// threaded through every prompt so a non-stdin r (as in tests) falls back
// to menu's scanner-based prompts instead of a TUI form.
func runWizard(r io.Reader, w io.Writer, b *Builder, defaultSavePath string) error {
	savePath := defaultSavePath

	for {
		fmt.Fprintln(w, "\nCurrent manifest:")
		fmt.Fprint(w, b.Summary())

		choice := menu.Select(r, w, "What next?", []string{
			"Add node",
			"Add connection",
			"Remove node",
			"Validate",
			"Show JSON",
			"Save",
			"Quit",
		})

		var err error
		switch choice {
		case 0:
			err = addNodeInteractive(r, w, b)
		case 1:
			err = addConnectionInteractive(r, w, b)
		case 2:
			err = removeNodeInteractive(r, w, b)
		case 3:
			err = validateInteractive(w, b)
		case 4:
			err = showJSON(w, b)
		case 5:
			savePath, err = saveInteractive(r, w, b, savePath)
		case 6:
			return nil
		default:
			return nil
		}

		if err != nil {
			fmt.Fprintf(w, "\nError: %v\n", err)
			menu.WaitForKey(r, w, "")
		}
	}
}

func addNodeInteractive(r io.Reader, w io.Writer, b *Builder) error {
	id := menu.Input(r, w, "Node id")
	typeIdx := menu.Select(r, w, "node_type", b.KnownNodeTypes())
	if typeIdx < 0 || typeIdx >= len(b.KnownNodeTypes()) {
		return fmt.Errorf("wizard: no node_type selected")
	}
	nodeType := b.KnownNodeTypes()[typeIdx]

	paramsRaw := menu.Input(r, w, "Params as JSON object (blank for none)")
	var params map[string]interface{}
	if strings.TrimSpace(paramsRaw) != "" {
		if err := json.Unmarshal([]byte(paramsRaw), &params); err != nil {
			return fmt.Errorf("wizard: params must be a JSON object: %w", err)
		}
	}

	var caps *manifest.Capabilities
	if menu.Confirm(r, w, "Run this node out-of-process?") {
		caps = &manifest.Capabilities{OutOfProcess: true}
	}

	if err := b.AddNode(id, nodeType, params, caps); err != nil {
		return err
	}
	fmt.Fprintf(w, "Added node %q.\n", id)
	return nil
}

func addConnectionInteractive(r io.Reader, w io.Writer, b *Builder) error {
	ids := b.NodeIDs()
	if len(ids) < 2 {
		return fmt.Errorf("wizard: need at least two nodes to connect")
	}

	fromIdx := menu.Select(r, w, "From node", ids)
	toIdx := menu.Select(r, w, "To node", ids)
	if fromIdx < 0 || fromIdx >= len(ids) || toIdx < 0 || toIdx >= len(ids) {
		return fmt.Errorf("wizard: selection out of range")
	}

	return b.AddConnection(ids[fromIdx], ids[toIdx], "", "")
}

func removeNodeInteractive(r io.Reader, w io.Writer, b *Builder) error {
	ids := b.NodeIDs()
	if len(ids) == 0 {
		return fmt.Errorf("wizard: no nodes to remove")
	}
	idx := menu.Select(r, w, "Remove which node?", ids)
	if idx < 0 || idx >= len(ids) {
		return fmt.Errorf("wizard: selection out of range")
	}
	return b.RemoveNode(ids[idx])
}

func validateInteractive(w io.Writer, b *Builder) error {
	if err := b.Validate(); err != nil {
		fmt.Fprintf(w, "Invalid: %v\n", err)
		return nil
	}
	fmt.Fprintln(w, "Manifest is valid.")
	return nil
}

func showJSON(w io.Writer, b *Builder) error {
	raw, err := b.JSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(raw))
	return nil
}

func saveInteractive(r io.Reader, w io.Writer, b *Builder, defaultPath string) (string, error) {
	path := menu.Input(r, w, fmt.Sprintf("Save path [%s]", defaultPath))
	if strings.TrimSpace(path) == "" {
		path = defaultPath
	}
	if err := b.Save(path); err != nil {
		return defaultPath, err
	}
	fmt.Fprintf(w, "Saved to %s.\n", path)
	return path, nil
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cyphersql/graphsql/internal/config"
	"github.com/cyphersql/graphsql/translator"
)

func epochNow() int64 { return time.Now().Unix() }

// cmdWatch reloads a schema file on every change and reports parse/load
// diagnostics, keeping a live Translator whose Query Cache self-invalidates
// on each reload (spec.md §4.8, §8 "Schema invalidation"). Grounded on
// cmd/forge/dev.go's fsnotify watcher: watch the containing directory,
// filter to the one file of interest, and debounce rapid writes before
// acting on them.
func cmdWatch(args []string) {
	f := parseFlags(args)
	if f.schemaPath == "" {
		fatal("missing --schema <path>")
	}

	tr := translator.New(config.Load(), epochNow)
	load := func() {
		yamlText, err := os.ReadFile(f.schemaPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: failed to read %s: %v\n", f.schemaPath, err)
			return
		}
		name := schemaNameFromPath(f.schemaPath)
		if err := tr.ReloadSchema(yamlText, name); err != nil {
			fmt.Fprintf(os.Stderr, "error: schema %s invalid: %v\n", f.schemaPath, err)
			return
		}
		fmt.Printf("schema %q loaded from %s\n", name, f.schemaPath)
	}
	load()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fatal("failed to create file watcher: %v", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.schemaPath)
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		fatal("failed to watch directory %s: %v", dir, err)
	}

	fmt.Printf("watching %s for changes (Ctrl-C to stop)...\n", f.schemaPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var debounceTimer *time.Timer
	const debounceDelay = 100 * time.Millisecond

	target, err := filepath.Abs(f.schemaPath)
	if err != nil {
		target = f.schemaPath
	}

	for {
		select {
		case <-sigChan:
			fmt.Println("\nshutting down...")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || abs != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, load)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
		}
	}
}

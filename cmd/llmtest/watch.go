package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/llmtest/pkg/runner"
)

const watchDebounce = 500 * time.Millisecond

var watchOpts runFlags

var watchCmd = &cobra.Command{
	Use:   "watch [spec.yaml|dir...]",
	Short: "Rerun specs when they or the plugins change",
	Long: `Run the given specs once, then watch them and the plugins directory.
A changed spec file reruns only that spec; any other change reruns everything.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	roots := args
	if len(roots) == 0 {
		proj, err := loadProject(".")
		if err != nil {
			return err
		}
		roots = []string{proj.TestsDir()}
	}
	pluginsDir := watchOpts.plugins
	if pluginsDir == "" {
		if proj, err := loadProject(roots[0]); err == nil {
			pluginsDir = proj.PluginsDir()
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range watchDirs(roots, pluginsDir) {
		if err := watcher.Add(dir); err != nil {
			fmt.Fprintf(os.Stderr, "⚠ cannot watch %s: %v\n", dir, err)
		}
	}

	rerun := func(paths []string) {
		s, err := newSuite(paths, watchOpts, !watchOpts.json)
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ %v\n", err)
			return
		}
		if _, err := s.run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		}
	}
	rerun(roots)
	fmt.Fprintf(os.Stderr, "\n[llmtest] watching %d path(s), Ctrl-C to stop\n", len(roots))

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending = map[string]bool{}
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending[event.Name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(watchDebounce)
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "⚠ watch error: %v\n", err)
		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for name := range pending {
				changed = append(changed, name)
			}
			pending = map[string]bool{}
			sort.Strings(changed)

			fmt.Fprintf(os.Stderr, "\n[llmtest] change detected: %s\n", filepath.Base(changed[0]))
			rerun(rerunTargets(changed, roots))
		}
	}
}

// watchDirs returns the directories to watch: every directory under the spec
// roots (fsnotify is not recursive), the parent of each file root and the
// plugins directory.
func watchDirs(roots []string, pluginsDir string) []string {
	seen := map[string]bool{}
	var dirs []string
	add := func(d string) {
		d = filepath.Clean(d)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			add(filepath.Dir(root))
			continue
		}
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			add(path)
			return nil
		})
	}
	if pluginsDir != "" {
		if info, err := os.Stat(pluginsDir); err == nil && info.IsDir() {
			add(pluginsDir)
		}
	}
	return dirs
}

func skipDir(name string) bool {
	return len(name) > 0 && (name[0] == '_' || name[0] == '.')
}

// rerunTargets picks what to rerun for a batch of changed files. When every
// change is a spec file only those specs run again; anything else (a plugin,
// the project file, a deleted spec) reruns all roots.
func rerunTargets(changed, roots []string) []string {
	var specs []string
	for _, name := range changed {
		if !runner.IsSpecFile(filepath.Base(name)) {
			return roots
		}
		if _, err := os.Stat(name); err != nil {
			return roots
		}
		specs = append(specs, name)
	}
	if len(specs) == 0 {
		return roots
	}
	return specs
}

func init() {
	addRunFlags(watchCmd, &watchOpts)
	rootCmd.AddCommand(watchCmd)
}

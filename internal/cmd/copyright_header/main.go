// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// copyright_header enumerates the Go files of the repository and adds the copyright header to
// the ones missing it. With -check it only lists them, and exits with an error if any is found.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagProject = flag.String("project", "GoMLX", "Project name to use in the copyright header")
	flagCheck   = flag.Bool("check", false, "Only list the files missing the header, without changing them.")
)

// maxHeaderLine is the number of lines searched for an existing copyright header.
const maxHeaderLine = 50

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [flags] [path ...]\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "\nEnumerates Go files and adds a copyright header if missing.\n")
		_, _ = fmt.Fprintf(os.Stderr, "Default path is current directory.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	header := fmt.Sprintf("// Copyright 2023-2026 The %s Authors. SPDX-License-Identifier: Apache-2.0\n\n", *flagProject)
	roots := flag.Args()
	if len(roots) == 0 {
		roots = []string{"."}
	}
	var missing int
	for _, root := range roots {
		err := walkGoFiles(root, func(path string) error {
			changed, err := processFile(path, header, *flagCheck)
			if changed {
				missing++
			}
			return err
		})
		if err != nil {
			klog.Fatalf("Error walking path %q: %+v", root, err)
		}
	}
	if *flagCheck && missing > 0 {
		klog.Errorf("%d files missing the copyright header", missing)
		os.Exit(1)
	}
}

// walkGoFiles calls fn for each Go source file under root, skipping hidden directories,
// directories starting with "_" (reference material ignored by the Go tool), vendor and
// generated files.
func walkGoFiles(root string, fn func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".go") || strings.HasPrefix(name, "gen_") {
			return nil
		}
		return fn(path)
	})
}

// processFile adds the header to the file if missing. It returns whether the header was missing.
func processFile(path, header string, checkOnly bool) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read %q", path)
	}
	newContent, changed := addHeader(string(content), header)
	if !changed {
		return false, nil
	}
	if checkOnly {
		klog.Infof("Missing header: %s", path)
		return true, nil
	}
	klog.Infof("Adding header to %s", path)
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		return true, errors.Wrapf(err, "failed to write %q", path)
	}
	return true, nil
}

// addHeader returns the content with the header added, and whether it was missing. The header
// goes after the build constraints, if there are any, separated by an empty line.
func addHeader(content, header string) (string, bool) {
	lines := strings.Split(content, "\n")
	lastBuildTagIndex := -1
	for i, line := range lines {
		if i > maxHeaderLine {
			break
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "// Copyright") {
			return content, false
		}
		if strings.HasPrefix(trimmed, "//go:build") || strings.HasPrefix(trimmed, "// +build") {
			lastBuildTagIndex = i
		}
	}
	if lastBuildTagIndex == -1 {
		return header + content, true
	}
	prefix := strings.Join(lines[:lastBuildTagIndex+1], "\n")
	suffix := strings.TrimLeft(strings.Join(lines[lastBuildTagIndex+1:], "\n"), "\n")
	return prefix + "\n\n" + header + suffix, true
}

package swan

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const licensed = "Licensed under the Apache License, Version 2.0"

func TestLicenseHeaders(t *testing.T) {
	dirs := []string{"core", "driver", "history", "interpreters", "pull", "sensors", "storage", "timers", "tools"}
	files := []string{"doc.go"}
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go") {
				files = append(files, path)
			}
			return nil
		})
		require.NoError(t, err, dir)
	}

	for _, path := range files {
		bs, err := os.ReadFile(path)
		require.NoError(t, err)
		src := string(bs)
		assert.True(t, strings.HasPrefix(src, "/* Copyright "), path)
		head := src
		if 600 < len(head) {
			head = head[:600]
		}
		assert.Contains(t, head, licensed, path)
	}
}

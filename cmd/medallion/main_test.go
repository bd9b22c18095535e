package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"normalize", "Zona Sul, Rio de Janeiro", "Belém"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "RIO DE JANEIRO")
	assert.Contains(t, out.String(), "BELEM")
}

func TestNormalizeChain(t *testing.T) {
	tests := []struct {
		name    string
		chain   string
		input   string
		want    string
		wantErr bool
	}{
		{"uppercase only", "uppercase", "Zona Sul, Rio de Janeiro", "ZONA SUL, RIO DE JANEIRO", false},
		{"unaccent then uppercase", "unaccent,uppercase", "Belém", "BELEM", false},
		{"unknown", "city_key,soundex", "Belém", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			rootCmd.SetOut(&out)
			rootCmd.SetErr(&bytes.Buffer{})
			rootCmd.SetArgs([]string{"normalize", "--normalizer", tt.chain, tt.input})
			t.Cleanup(func() {
				rootCmd.SetArgs(nil)
				normalizers = "city_key"
			})

			err := rootCmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestRunHelpListsStages(t *testing.T) {
	usage := runCmd.Flags().Lookup("from").Usage
	assert.Contains(t, usage, "ingest, clean, join, analyze")
}

func TestNormalizeRequiresName(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"normalize"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	assert.Error(t, rootCmd.Execute())
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medallion.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  namespace: prod\n"), 0644))

	configPath, namespace, logLevel = path, "staging", "debug"
	t.Cleanup(func() { configPath, namespace, logLevel = "", "", "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Pipeline.Namespace)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

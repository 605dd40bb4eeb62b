package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOptionsReturnsDefaultsWithoutConfigFile(t *testing.T) {
	flagCfgFile = ""
	opts, err := loadOptions(&cobra.Command{})
	require.NoError(t, err)
	assert.Equal(t, 16, opts.HNSWM)
	assert.Equal(t, 4096, opts.JournalSizeBlocks)
}

func TestLoadOptionsRejectsUnreadableConfigFile(t *testing.T) {
	flagCfgFile = "/nonexistent/vexfs.yaml"
	_, err := loadOptions(&cobra.Command{})
	assert.Error(t, err)
	flagCfgFile = ""
}

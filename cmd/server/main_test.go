package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/sync"
	"github.com/brandon/mailsync/pkg/types"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "sync", "password"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestSyncRejectsUnknownCriteria(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"sync", "--criteria", "new,recent"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	assert.ErrorContains(t, err, "unknown sync criteria")
}

func TestPrintResults(t *testing.T) {
	var out bytes.Buffer
	printResults(&out, []*sync.Result{
		{Mailbox: "INBOX", Mode: "initial", New: make([]uint32, 1200), Token: types.SyncToken{UIDNext: 1201}},
		{Mailbox: "Archive", Mode: "incremental", Changed: 2, Vanished: 1, Token: types.SyncToken{UIDNext: 9}},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"MAILBOX", "MODE", "NEW", "CHANGED", "VANISHED", "UIDNEXT"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"INBOX", "initial", "1,200", "0", "0", "1201"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"Archive", "incremental", "0", "2", "1", "9"}, strings.Fields(lines[2]))
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanling-notes/fanling/internal/protocol"
)

func TestCommandLine(t *testing.T) {
	body, err := commandLine(`  {"a":"ListAll"}  `)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"ListAll"}`, body)

	body, err = commandLine("Show buy-milk-a3")
	require.NoError(t, err)
	req, err := protocol.DecodeString(body)
	require.NoError(t, err)
	assert.Equal(t, "buy-milk-a3", req.Ident)
	assert.Equal(t, protocol.Show, req.Action.Name)

	body, err = commandLine("ListReady")
	require.NoError(t, err)
	req, err = protocol.DecodeString(body)
	require.NoError(t, err)
	assert.Equal(t, protocol.ListReady, req.Action.Name)

	_, err = commandLine("Frobnicate")
	assert.ErrorIs(t, err, protocol.ErrUnknownAction)

	_, err = commandLine("Show a b")
	assert.Error(t, err)
}

func TestPlainText(t *testing.T) {
	got := plainText(`<p>Buy <b>milk</b> &amp; eggs</p><p></p><ul><li>one</li><li>two</li></ul>`)
	assert.Equal(t, "Buy milk & eggs\none\ntwo", got)
}

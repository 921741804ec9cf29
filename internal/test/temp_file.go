package test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TempFile writes content into a file inside the test temporary directory and returns its path.
func TempFile(t testing.TB, byts []byte) string {
	f, err := os.CreateTemp(t.TempDir(), "mediacompose-")
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write(byts)
	require.NoError(t, err)

	return f.Name()
}

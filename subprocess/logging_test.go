package subprocess

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilteredTailCapturesErrorLines(t *testing.T) {
	var f Filtered
	f.consume(strings.NewReader(
		"frame=  120 fps=30\n" +
			"[error] Could not open encoder before EOF\n" +
			"frame=  121 fps=30\n" +
			"[error] stream 0:1 codec not supported\n",
	))
	require.Equal(t, []string{
		"[error] Could not open encoder before EOF",
		"[error] stream 0:1 codec not supported",
	}, f.Tail())
}

func TestFilteredTailIsBounded(t *testing.T) {
	var f Filtered
	var sb strings.Builder
	for i := 0; i < errorTailSize+10; i++ {
		sb.WriteString("[error] line\n")
	}
	f.consume(strings.NewReader(sb.String()))
	require.Len(t, f.Tail(), errorTailSize)
}

func TestFilteredIgnoresNonErrorLines(t *testing.T) {
	var f Filtered
	f.consume(strings.NewReader("frame=1\nframe=2\n"))
	require.Empty(t, f.Tail())
}

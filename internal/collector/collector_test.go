package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunTicksUntilContextCanceled(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())

	count := 0
	err := Run(ctx, time.Millisecond, &buf, func(w io.Writer) error {
		count++
		fmt.Fprintf(w, "tick %d\n", count)
		if count == 3 {
			cancel()
		}
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 3, count)
	require.Equal(t, "tick 1\ntick 2\ntick 3\n", buf.String())
}

func TestRunPropagatesTickError(t *testing.T) {
	var buf bytes.Buffer
	boom := fmt.Errorf("boom")
	err := Run(context.Background(), time.Millisecond, &buf, func(w io.Writer) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

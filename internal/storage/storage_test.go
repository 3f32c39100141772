package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "ledger.tsv", want: "ledger.tsv"},
		{name: "nested", in: "state/./world.jsonl", want: "state/world.jsonl"},
		{name: "empty", in: "  ", wantErr: true},
		{name: "absolute", in: "/etc/passwd", wantErr: true},
		{name: "traversal", in: "../secrets", wantErr: true},
		{name: "hidden traversal", in: "a/../../b", wantErr: true},
		{name: "backslash", in: `a\b`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := CleanName(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
